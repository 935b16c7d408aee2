package graph

import "context"

// Store is the entity graph contract. The graph holds asset, identity, and
// alert relationships; drift detection and investigation enrichment query
// it, connectors populate it.
type Store interface {
	// Query runs a parameterized cypher statement and returns row maps.
	Query(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)

	// EntityDegree returns the relationship count for one entity, used as a
	// blast-radius signal during triage.
	EntityDegree(ctx context.Context, tenantID, entityID string) (int64, error)
}
