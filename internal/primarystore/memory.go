package primarystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and small
// single-process deployments; production setups use SQLiteStore.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*contexts.Context
	versions map[string][]*contexts.ContextVersion
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*contexts.Context),
		versions: make(map[string][]*contexts.ContextVersion),
	}
}

// Insert stores a copy of c and assigns a fresh id.
func (s *MemoryStore) Insert(ctx context.Context, c *contexts.Context) (*contexts.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := c.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, exists := s.records[stored.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate id %s", contexts.ErrValidation, stored.ID)
	}
	s.records[stored.ID] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*contexts.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contexts.ErrNotFound, id)
	}
	return c.Clone(), nil
}

// GetBatch returns copies of the records that resolve; unknown ids are skipped.
func (s *MemoryStore) GetBatch(ctx context.Context, ids []string) ([]*contexts.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*contexts.Context, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.records[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// Update replaces the stored record.
func (s *MemoryStore) Update(ctx context.Context, c *contexts.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[c.ID]; !ok {
		return fmt.Errorf("%w: %s", contexts.ErrNotFound, c.ID)
	}
	s.records[c.ID] = c.Clone()
	return nil
}

// TouchUsage increments usage_count and stamps last_accessed in place.
func (s *MemoryStore) TouchUsage(ctx context.Context, id string, accessedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", contexts.ErrNotFound, id)
	}
	c.Metadata.UsageCount++
	c.LastAccessed = accessedAt
	return nil
}

// Delete removes the record and its versions.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", contexts.ErrNotFound, id)
	}
	delete(s.records, id)
	delete(s.versions, id)
	return nil
}

// Find returns matching records ordered by id.
func (s *MemoryStore) Find(ctx context.Context, q Query) ([]*contexts.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*contexts.Context
	for _, c := range s.records {
		if q.WorkspaceID != "" && c.WorkspaceID != q.WorkspaceID {
			continue
		}
		if q.Tier != "" && c.Tier != q.Tier {
			continue
		}
		if q.Type != "" && c.Type != q.Type {
			continue
		}
		matched = append(matched, c.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Count returns the number of contexts in a workspace.
func (s *MemoryStore) Count(ctx context.Context, workspaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.records {
		if c.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

// ListIDs returns every id in a workspace, sorted.
func (s *MemoryStore) ListIDs(ctx context.Context, workspaceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, c := range s.records {
		if c.WorkspaceID == workspaceID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// PutVersion appends a version snapshot.
func (s *MemoryStore) PutVersion(ctx context.Context, v *contexts.ContextVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	cp.Metadata = v.Metadata.Clone()
	s.versions[v.ContextID] = append(s.versions[v.ContextID], &cp)
	return nil
}

// GetVersions returns snapshots newest first.
func (s *MemoryStore) GetVersions(ctx context.Context, contextID string, limit int) ([]*contexts.ContextVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.versions[contextID]
	out := make([]*contexts.ContextVersion, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		cp := *stored[i]
		cp.Metadata = stored[i].Metadata.Clone()
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LatestVersion returns the highest stored version number.
func (s *MemoryStore) LatestVersion(ctx context.Context, contextID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.versions[contextID]
	if len(stored) == 0 {
		return 0, nil
	}
	return stored[len(stored)-1].Version, nil
}

// PruneVersions drops the oldest snapshots beyond keep.
func (s *MemoryStore) PruneVersions(ctx context.Context, contextID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.versions[contextID]
	if keep <= 0 || len(stored) <= keep {
		return nil
	}
	s.versions[contextID] = stored[len(stored)-keep:]
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
