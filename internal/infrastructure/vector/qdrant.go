package vector

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

// QdrantStore talks to Qdrant over its REST API. Scroll uses the cursor the
// server hands back, so pagination stays stable while the migration writes
// into the same collection.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewQdrantStore creates the connector.
func NewQdrantStore(cfg *config.Vector) *QdrantStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type qdrantPoint struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantScrollResponse struct {
	Result struct {
		Points         []qdrantPoint `json:"points"`
		NextPageOffset *string       `json:"next_page_offset"`
	} `json:"result"`
	Status string `json:"status"`
}

// Scroll pages through the collection.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, offset string, limit int) (*ScrollResult, error) {
	body := map[string]interface{}{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if offset != "" {
		body["offset"] = offset
	}

	var resp qdrantScrollResponse
	err := s.post(ctx, fmt.Sprintf("/collections/%s/points/scroll", collection), body, &resp)
	if err != nil {
		return nil, fmt.Errorf("scrolling %s: %w", collection, err)
	}

	result := &ScrollResult{}
	for _, p := range resp.Result.Points {
		result.Points = append(result.Points, &Point{
			ID:      p.ID,
			Vector:  p.Vector,
			Payload: p.Payload,
		})
	}
	if resp.Result.NextPageOffset != nil {
		result.NextOffset = *resp.Result.NextPageOffset
	}
	return result, nil
}

// Upsert writes points. Qdrant replaces points by ID, which is the
// idempotence the Store contract requires.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []*Point) error {
	payload := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		payload = append(payload, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}

	err := s.put(ctx, fmt.Sprintf("/collections/%s/points?wait=true", collection),
		map[string]interface{}{"points": payload}, nil)
	if err != nil {
		return fmt.Errorf("upserting %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Count returns the collection's point count.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	err := s.post(ctx, fmt.Sprintf("/collections/%s/points/count", collection),
		map[string]interface{}{"exact": true}, &resp)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return resp.Result.Count, nil
}

func (s *QdrantStore) post(ctx context.Context, path string, body, out interface{}) error {
	return s.do(ctx, http.MethodPost, path, body, out)
}

func (s *QdrantStore) put(ctx context.Context, path string, body, out interface{}) error {
	return s.do(ctx, http.MethodPut, path, body, out)
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
