package retriever

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
	"github.com/fyrsmithlabs/contextcore/internal/embeddings"
	"github.com/fyrsmithlabs/contextcore/internal/primarystore"
	"github.com/fyrsmithlabs/contextcore/internal/vectorindex"
)

// capturingEmbedder records queries passed to the provider.
type capturingEmbedder struct {
	*embeddings.StaticProvider
	queries []string
}

func (c *capturingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.queries = append(c.queries, text)
	return c.StaticProvider.EmbedQuery(ctx, text)
}

type env struct {
	retriever *Retriever
	store     *primarystore.MemoryStore
	index     *vectorindex.MemoryIndex
	embedder  *capturingEmbedder
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	store := primarystore.NewMemoryStore()
	index := vectorindex.NewMemoryIndex()
	embedder := &capturingEmbedder{StaticProvider: embeddings.NewStaticProvider(16)}

	r, err := New(store, index, embedder, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return &env{retriever: r, store: store, index: index, embedder: embedder}
}

// seed inserts a context into both stores, embedded from its content.
func (e *env) seed(t *testing.T, workspace string, tier contexts.Tier, content string, accessed time.Time, usage int, confidence float64) *contexts.Context {
	t.Helper()
	ctx := context.Background()
	record := &contexts.Context{
		WorkspaceID: workspace,
		Tier:        tier,
		Type:        contexts.TypeFile,
		Content:     content,
		Metadata: contexts.Metadata{
			UsageCount: usage,
			Confidence: confidence,
		},
		CreatedAt:    accessed,
		UpdatedAt:    accessed,
		LastAccessed: accessed,
	}
	created, err := e.store.Insert(ctx, record)
	require.NoError(t, err)

	vector, err := e.embedder.StaticProvider.EmbedQuery(ctx, content)
	require.NoError(t, err)
	require.NoError(t, e.index.Upsert(ctx, []vectorindex.Point{{
		ID:      created.ID,
		Vector:  vector,
		Payload: created.IndexPayload(),
	}}))
	return created
}

func TestRetrieve_EmptyQuerySkipsEmbedding(t *testing.T) {
	e := newEnv(t, Config{})

	result, err := e.retriever.Retrieve(context.Background(), Request{WorkspaceID: "ws-1", Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, result.Contexts)
	assert.Equal(t, 0, result.TotalFound)
	assert.Empty(t, e.embedder.queries)
}

func TestRetrieve_RequiresWorkspace(t *testing.T) {
	e := newEnv(t, Config{})

	_, err := e.retriever.Retrieve(context.Background(), Request{Query: "something"})
	assert.ErrorIs(t, err, contexts.ErrValidation)
}

func TestRetrieve_EntityExpansionThreshold(t *testing.T) {
	e := newEnv(t, Config{})
	now := time.Now().UTC()
	e.seed(t, "ws-1", contexts.TierWorkspace, "TypeScript build config", now, 0, 1)

	_, err := e.retriever.Retrieve(context.Background(), Request{
		WorkspaceID: "ws-1",
		Query:       "build errors",
		Entities: []Entity{
			{Value: "TypeScript", Confidence: 0.8},
			{Value: "React", Confidence: 0.5},
		},
	})
	require.NoError(t, err)

	require.Len(t, e.embedder.queries, 1)
	assert.Contains(t, e.embedder.queries[0], "TypeScript")
	assert.NotContains(t, e.embedder.queries[0], "React")
}

func TestRetrieve_SearchesAllTiersInOrder(t *testing.T) {
	e := newEnv(t, Config{})
	now := time.Now().UTC()
	e.seed(t, "ws-1", contexts.TierWorkspace, "workspace fact", now, 0, 1)
	e.seed(t, "ws-1", contexts.TierHybrid, "hybrid fact", now, 0, 1)
	e.seed(t, "ws-1", contexts.TierGlobal, "global fact", now, 0, 1)

	result, err := e.retriever.Retrieve(context.Background(), Request{WorkspaceID: "ws-1", Query: "fact"})
	require.NoError(t, err)
	assert.Equal(t, []contexts.Tier{contexts.TierWorkspace, contexts.TierHybrid, contexts.TierGlobal}, result.TiersSearched)
	assert.Equal(t, 3, result.TotalFound)
	assert.Len(t, result.Contexts, 3)
}

func TestRetrieve_EmptyWorkspace(t *testing.T) {
	e := newEnv(t, Config{})

	result, err := e.retriever.Retrieve(context.Background(), Request{WorkspaceID: "ws-empty", Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalFound)
	assert.Empty(t, result.Contexts)
}

func TestRetrieve_StaleIndexHitDropped(t *testing.T) {
	e := newEnv(t, Config{})
	now := time.Now().UTC()
	kept := e.seed(t, "ws-1", contexts.TierWorkspace, "surviving context", now, 0, 1)
	stale := e.seed(t, "ws-1", contexts.TierWorkspace, "deleted context", now, 0, 1)

	// Remove the primary record but leave the index entry behind.
	require.NoError(t, e.store.Delete(context.Background(), stale.ID))

	result, err := e.retriever.Retrieve(context.Background(), Request{WorkspaceID: "ws-1", Query: "context"})
	require.NoError(t, err)
	require.Len(t, result.Contexts, 1)
	assert.Equal(t, kept.ID, result.Contexts[0].Context.ID)
}

func TestRetrieve_UsageTracking(t *testing.T) {
	e := newEnv(t, Config{})
	now := time.Now().UTC().Add(-time.Hour)
	seeded := e.seed(t, "ws-1", contexts.TierWorkspace, "tracked context", now, 0, 1)

	_, err := e.retriever.Retrieve(context.Background(), Request{WorkspaceID: "ws-1", Query: "tracked"})
	require.NoError(t, err)

	// Close drains the background writes.
	require.NoError(t, e.retriever.Close())

	got, err := e.store.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metadata.UsageCount)
	assert.True(t, got.LastAccessed.After(now))
}

func TestRetrieve_WorkspaceIsolation(t *testing.T) {
	e := newEnv(t, Config{})
	now := time.Now().UTC()
	e.seed(t, "ws-1", contexts.TierWorkspace, "mine", now, 0, 1)
	e.seed(t, "ws-2", contexts.TierWorkspace, "theirs", now, 0, 1)

	result, err := e.retriever.Retrieve(context.Background(), Request{WorkspaceID: "ws-1", Query: "mine"})
	require.NoError(t, err)
	require.Len(t, result.Contexts, 1)
	assert.Equal(t, "mine", result.Contexts[0].Context.Content)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	store := primarystore.NewMemoryStore()
	index := vectorindex.NewMemoryIndex()
	embedder := embeddings.NewStaticProvider(16)

	cfg := Config{Weights: Weights{Semantic: -1}}
	_, err := New(store, index, embedder, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = Config{DuplicateThreshold: 1.5}
	_, err = New(store, index, embedder, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// stallingIndex blocks searches on selected tiers until the per-tier
// context expires.
type stallingIndex struct {
	*vectorindex.MemoryIndex
	stallTiers map[string]bool
}

func (s *stallingIndex) Search(ctx context.Context, vector []float32, limit int, filter map[string]any) ([]vectorindex.Hit, error) {
	if tier, _ := filter["tier"].(string); s.stallTiers[tier] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MemoryIndex.Search(ctx, vector, limit, filter)
}

func newStallingEnv(t *testing.T, cfg Config, stallTiers ...contexts.Tier) (*Retriever, *primarystore.MemoryStore, *stallingIndex, *capturingEmbedder) {
	t.Helper()
	store := primarystore.NewMemoryStore()
	index := &stallingIndex{
		MemoryIndex: vectorindex.NewMemoryIndex(),
		stallTiers:  make(map[string]bool),
	}
	for _, tier := range stallTiers {
		index.stallTiers[string(tier)] = true
	}
	embedder := &capturingEmbedder{StaticProvider: embeddings.NewStaticProvider(16)}

	r, err := New(store, index, embedder, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, store, index, embedder
}

func stallSeed(t *testing.T, store *primarystore.MemoryStore, index *stallingIndex, embedder *capturingEmbedder, tier contexts.Tier, content string) *contexts.Context {
	t.Helper()
	ctx := context.Background()
	created, err := store.Insert(ctx, &contexts.Context{
		WorkspaceID:  "ws-1",
		Tier:         tier,
		Type:         contexts.TypeFile,
		Content:      content,
		Metadata:     contexts.Metadata{Confidence: 1},
		LastAccessed: time.Now().UTC(),
	})
	require.NoError(t, err)

	vector, err := embedder.StaticProvider.EmbedQuery(ctx, content)
	require.NoError(t, err)
	require.NoError(t, index.MemoryIndex.Upsert(ctx, []vectorindex.Point{{
		ID:      created.ID,
		Vector:  vector,
		Payload: created.IndexPayload(),
	}}))
	return created
}

func TestRetrieve_TierTimeoutReturnsPartialResult(t *testing.T) {
	r, store, index, embedder := newStallingEnv(t,
		Config{TierTimeout: 20 * time.Millisecond}, contexts.TierHybrid)
	seeded := stallSeed(t, store, index, embedder, contexts.TierWorkspace, "workspace fact")
	stallSeed(t, store, index, embedder, contexts.TierHybrid, "hybrid fact")

	result, err := r.Retrieve(context.Background(), Request{WorkspaceID: "ws-1", Query: "fact"})
	require.NoError(t, err)

	// The stalled tier is abandoned; earlier tiers still answer.
	assert.Equal(t, []contexts.Tier{contexts.TierWorkspace}, result.TiersSearched)
	require.Len(t, result.Contexts, 1)
	assert.Equal(t, seeded.ID, result.Contexts[0].Context.ID)
}

func TestRetrieve_FirstTierTimeoutIsAnError(t *testing.T) {
	r, store, index, embedder := newStallingEnv(t,
		Config{TierTimeout: 20 * time.Millisecond}, contexts.TierWorkspace)
	stallSeed(t, store, index, embedder, contexts.TierWorkspace, "workspace fact")

	_, err := r.Retrieve(context.Background(), Request{WorkspaceID: "ws-1", Query: "fact"})
	assert.ErrorIs(t, err, contexts.ErrIndexUnavailable)
}
