package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// Neo4jStore runs cypher through Neo4j's HTTP transaction endpoint with
// implicit commit. One statement per request keeps the failure surface
// simple; enrichment queries are read-only.
type Neo4jStore struct {
	endpoint string
	username string
	password string
	client   *http.Client
}

// NewNeo4jStore creates the connector.
func NewNeo4jStore(cfg *config.Graph) *Neo4jStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{
		endpoint: fmt.Sprintf("%s/db/%s/tx/commit", cfg.URL, database),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
	}
}

type cypherRequest struct {
	Statements []cypherStatement `json:"statements"`
}

type cypherStatement struct {
	Statement  string                 `json:"statement"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type cypherResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []json.RawMessage `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Query runs one cypher statement and returns rows keyed by column name.
func (s *Neo4jStore) Query(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	body, err := json.Marshal(cypherRequest{
		Statements: []cypherStatement{{Statement: cypher, Parameters: params}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("graph query: status %d: %s", httpResp.StatusCode, detail)
	}

	var resp cypherResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding graph response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graph query failed: %s: %s", resp.Errors[0].Code, resp.Errors[0].Message)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	result := resp.Results[0]
	rows := make([]map[string]interface{}, 0, len(result.Data))
	for _, d := range result.Data {
		row := make(map[string]interface{}, len(result.Columns))
		for i, col := range result.Columns {
			if i >= len(d.Row) {
				break
			}
			var v interface{}
			if err := json.Unmarshal(d.Row[i], &v); err != nil {
				return nil, fmt.Errorf("decoding column %s: %w", col, err)
			}
			row[col] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EntityDegree returns how many distinct entities an entity touched within
// its tenant's graph.
func (s *Neo4jStore) EntityDegree(ctx context.Context, tenantID, entityID string) (int64, error) {
	rows, err := s.Query(ctx, `
		MATCH (e:Entity {tenant_id: $tenant_id, entity_id: $entity_id})--(peer:Entity)
		RETURN count(DISTINCT peer) AS degree`,
		map[string]interface{}{"tenant_id": tenantID, "entity_id": entityID})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	degree, ok := rows[0]["degree"].(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected degree type %T", rows[0]["degree"])
	}
	return int64(degree), nil
}
