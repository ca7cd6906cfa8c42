package vectorindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoint(id string, vector []float32, workspaceID string) Point {
	return Point{
		ID:     id,
		Vector: vector,
		Payload: map[string]any{
			"workspace_id": workspaceID,
			"tier":         "workspace",
			"type":         "file",
		},
	}
}

func TestMemoryIndex_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("a", []float32{1, 0, 0}, "ws-1"),
		testPoint("b", []float32{0.9, 0.1, 0}, "ws-1"),
		testPoint("c", []float32{0, 1, 0}, "ws-1"),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// Nearest first.
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.Equal(t, "c", hits[2].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryIndex_SearchLimit(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	for i := 0; i < 5; i++ {
		p := testPoint(fmt.Sprintf("p%d", i), []float32{1, float32(i) * 0.1}, "ws-1")
		require.NoError(t, idx.Upsert(ctx, []Point{p}))
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, err = idx.Search(ctx, []float32{1, 0}, 0, nil)
	assert.Error(t, err)
}

func TestMemoryIndex_SearchFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("a", []float32{1, 0}, "ws-1"),
		testPoint("b", []float32{1, 0}, "ws-2"),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, map[string]any{"workspace_id": "ws-2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
	assert.Equal(t, "ws-2", hits[0].Payload["workspace_id"])
}

func TestMemoryIndex_FilterNumericLooseness(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	p := testPoint("a", []float32{1, 0}, "ws-1")
	p.Payload["updated_at_unix"] = int64(1700000000)
	require.NoError(t, idx.Upsert(ctx, []Point{p}))

	// Filters built from untyped literals carry int, stored payloads
	// may carry int64; both must match.
	hits, err := idx.Search(ctx, []float32{1, 0}, 10, map[string]any{"updated_at_unix": 1700000000})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, []Point{testPoint("a", []float32{1, 0}, "ws-1")}))
	require.NoError(t, idx.Upsert(ctx, []Point{testPoint("a", []float32{0, 1}, "ws-1")}))

	hits, err := idx.Search(ctx, []float32{0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
}

func TestMemoryIndex_Delete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("a", []float32{1, 0}, "ws-1"),
		testPoint("b", []float32{0, 1}, "ws-1"),
	}))
	require.NoError(t, idx.Delete(ctx, []string{"a", "missing"}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestMemoryIndex_DeleteByFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("a", []float32{1, 0}, "ws-1"),
		testPoint("b", []float32{0, 1}, "ws-1"),
		testPoint("c", []float32{1, 1}, "ws-2"),
	}))
	require.NoError(t, idx.DeleteByFilter(ctx, map[string]any{"workspace_id": "ws-1"}))

	ids, err := idx.ListIDs(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = idx.ListIDs(ctx, "ws-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)
}

func TestMemoryIndex_ListIDs(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("b", []float32{0, 1}, "ws-1"),
		testPoint("a", []float32{1, 0}, "ws-1"),
		testPoint("c", []float32{1, 1}, "ws-2"),
	}))

	ids, err := idx.ListIDs(ctx, "ws-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float32
		wantErr bool
	}{
		{name: "identical", a: []float32{1, 0}, b: []float32{1, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "dimension mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestChromemConfig_Validate(t *testing.T) {
	cfg := ChromemConfig{Collection: "contexts", VectorSize: 384}
	assert.NoError(t, cfg.Validate())

	assert.ErrorIs(t, ChromemConfig{VectorSize: 384}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, ChromemConfig{Collection: "contexts"}.Validate(), ErrInvalidConfig)
}

func TestQdrantConfig_Validate(t *testing.T) {
	cfg := QdrantConfig{Collection: "contexts", VectorSize: 384}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)

	bad := QdrantConfig{Port: 6334, VectorSize: 384}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "pinecone"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_MemoryProvider(t *testing.T) {
	idx, err := New(context.Background(), Config{Provider: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryIndex{}, idx)
}

func TestChromemIndex_RoundTrip(t *testing.T) {
	ctx := context.Background()
	idx, err := NewChromemIndex(ChromemConfig{
		Path:       t.TempDir(),
		Collection: "contexts",
		VectorSize: 3,
	})
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("11111111-1111-1111-1111-111111111111", []float32{1, 0, 0}, "ws-1"),
		testPoint("22222222-2222-2222-2222-222222222222", []float32{0, 1, 0}, "ws-1"),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", hits[0].ID)
	assert.Equal(t, "ws-1", hits[0].Payload["workspace_id"])

	// Replacement keeps a single document per id.
	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("11111111-1111-1111-1111-111111111111", []float32{0, 0, 1}, "ws-1"),
	}))
	ids, err := idx.ListIDs(ctx, "ws-1")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	require.NoError(t, idx.Delete(ctx, []string{"22222222-2222-2222-2222-222222222222"}))
	ids, err = idx.ListIDs(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"11111111-1111-1111-1111-111111111111"}, ids)
}

func TestChromemIndex_DimensionMismatch(t *testing.T) {
	idx, err := NewChromemIndex(ChromemConfig{
		Path:       t.TempDir(),
		Collection: "contexts",
		VectorSize: 3,
	})
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), []Point{testPoint("a", []float32{1, 0}, "ws-1")})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
