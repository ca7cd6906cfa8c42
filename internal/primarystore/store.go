// Package primarystore defines the primary record store contract and its
// implementations. The primary store is the source of truth for contexts;
// the vector index is a derived projection repaired against it.
package primarystore

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

// Query selects contexts by the indexed columns. Zero values mean "any".
type Query struct {
	WorkspaceID string
	Tier        contexts.Tier
	Type        contexts.Type

	// Limit caps the result size; 0 means no cap. Offset supports batched
	// sweeps over a workspace.
	Limit  int
	Offset int
}

// Store is the primary record store contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Insert persists a new context and assigns its id. The stored record
	// is returned with the id populated.
	Insert(ctx context.Context, c *contexts.Context) (*contexts.Context, error)

	// Get returns the context by id, or contexts.ErrNotFound.
	Get(ctx context.Context, id string) (*contexts.Context, error)

	// GetBatch returns the contexts for the given ids. Unknown ids are
	// skipped, not errors; the caller inspects which ids resolved.
	GetBatch(ctx context.Context, ids []string) ([]*contexts.Context, error)

	// Update replaces the stored record. Returns contexts.ErrNotFound for
	// unknown ids.
	Update(ctx context.Context, c *contexts.Context) error

	// Delete removes the record. Returns contexts.ErrNotFound for unknown ids.
	Delete(ctx context.Context, id string) error

	// TouchUsage increments the usage counter and stamps last_accessed.
	// Retrieval side effects use it so reads never create version
	// snapshots. Returns contexts.ErrNotFound for unknown ids.
	TouchUsage(ctx context.Context, id string, accessedAt time.Time) error

	// Find returns contexts matching the query, ordered by id for
	// deterministic pagination.
	Find(ctx context.Context, q Query) ([]*contexts.Context, error)

	// Count returns the number of contexts in a workspace.
	Count(ctx context.Context, workspaceID string) (int, error)

	// ListIDs returns every context id in a workspace. Reconciliation uses
	// it to diff the primary store against the vector index.
	ListIDs(ctx context.Context, workspaceID string) ([]string, error)

	// PutVersion appends an immutable version snapshot.
	PutVersion(ctx context.Context, v *contexts.ContextVersion) error

	// GetVersions returns snapshots for a context, newest first, capped at
	// limit (0 means all).
	GetVersions(ctx context.Context, contextID string, limit int) ([]*contexts.ContextVersion, error)

	// LatestVersion returns the highest version number stored for a
	// context, 0 when none exist.
	LatestVersion(ctx context.Context, contextID string) (int, error)

	// PruneVersions removes the oldest snapshots beyond keep.
	PruneVersions(ctx context.Context, contextID string, keep int) error

	// Close releases the underlying resources.
	Close() error
}
