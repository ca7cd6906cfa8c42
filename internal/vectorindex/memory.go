package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine-similarity Index. It backs tests and
// small local setups where neither Qdrant nor an on-disk database is wanted.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]Point)}
}

// Upsert inserts or replaces points by id.
func (m *MemoryIndex) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("%w: point id required", ErrInvalidConfig)
		}
		cp := p
		cp.Vector = append([]float32(nil), p.Vector...)
		cp.Payload = clonePayload(p.Payload)
		m.points[p.ID] = cp
	}
	return nil
}

// Search returns hits by descending cosine similarity, ties broken by id.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, limit int, filter map[string]any) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidConfig)
	}

	var hits []Hit
	for _, p := range m.points {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		score, err := CosineSimilarity(vector, p.Vector)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: p.ID, Score: score, Payload: clonePayload(p.Payload)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Delete removes points by id.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// DeleteByFilter removes every matching point.
func (m *MemoryIndex) DeleteByFilter(ctx context.Context, filter map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.points {
		if payloadMatches(p.Payload, filter) {
			delete(m.points, id)
		}
	}
	return nil
}

// ListIDs returns the ids of every point in a workspace, sorted.
func (m *MemoryIndex) ListIDs(ctx context.Context, workspaceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, p := range m.points {
		if payloadMatches(p.Payload, map[string]any{"workspace_id": workspaceID}) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory index.
func (m *MemoryIndex) Close() error { return nil }

// CosineSimilarity computes the cosine similarity of two vectors.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
}

// payloadMatches reports whether payload contains every filter entry.
// Numeric values compare loosely across int/int64/float64 since payloads
// round-trip through backends with different numeric models.
func payloadMatches(payload, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
