// Package vectorindex defines the vector index contract and its
// implementations. The index holds embeddings plus a filterable payload
// projection of each context; it is derived from the primary store and
// repairable against it.
package vectorindex

import (
	"context"
	"errors"
)

// Sentinel errors for vector index operations.
var (
	// ErrInvalidConfig indicates invalid index configuration.
	ErrInvalidConfig = errors.New("invalid vector index configuration")

	// ErrConnectionFailed indicates the index backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrDimensionMismatch indicates a vector with the wrong dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Point is an embedding plus its filterable payload.
type Point struct {
	// ID matches the context id in the primary store.
	ID string

	// Vector is the embedding.
	Vector []float32

	// Payload is the filterable projection of the context. It never
	// contains content; hits are hydrated from the primary store.
	Payload map[string]any
}

// Hit is a single search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Index is the vector index contract. Implementations must be safe for
// concurrent use.
type Index interface {
	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to limit hits nearest to vector, restricted to
	// points whose payload matches every filter entry exactly.
	Search(ctx context.Context, vector []float32, limit int, filter map[string]any) ([]Hit, error)

	// Delete removes points by id. Unknown ids are not errors.
	Delete(ctx context.Context, ids []string) error

	// DeleteByFilter removes every point whose payload matches the filter.
	DeleteByFilter(ctx context.Context, filter map[string]any) error

	// ListIDs returns the ids of every point belonging to a workspace.
	// Reconciliation uses it to diff the index against the primary store.
	ListIDs(ctx context.Context, workspaceID string) ([]string, error)

	// Close releases the backend connection.
	Close() error
}
