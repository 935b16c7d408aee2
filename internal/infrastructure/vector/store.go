package vector

import "context"

// Point is one stored embedding with its payload.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// ScrollResult is one page of a collection scan. NextOffset is empty when
// the scan is exhausted.
type ScrollResult struct {
	Points     []*Point
	NextOffset string
}

// Store is the vector database contract the platform depends on. Backends
// plug in through the connector layer; the embedding migration and
// retrieval paths only see this interface.
//
// Upsert must be idempotent on point ID: re-writing a point with the same
// ID replaces it, which is what lets the migration resume from a checkpoint
// without double-counting.
type Store interface {
	// Scroll pages through a collection in a stable order. offset "" starts
	// from the beginning.
	Scroll(ctx context.Context, collection string, offset string, limit int) (*ScrollResult, error)

	// Upsert writes points into the collection.
	Upsert(ctx context.Context, collection string, points []*Point) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (int64, error)
}
