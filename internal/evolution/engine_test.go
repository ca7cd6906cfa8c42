package evolution

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
	"github.com/fyrsmithlabs/contextcore/internal/storage"
	"github.com/fyrsmithlabs/contextcore/internal/vectorindex"
)

type harness struct {
	engine  *Engine
	store   *primarystore.MemoryStore
	storage *storage.Service
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := primarystore.NewMemoryStore()
	index := vectorindex.NewMemoryIndex()
	embedder := embeddings.NewStaticProvider(8)

	svc, err := storage.NewService(store, index, embedder, storage.Config{}, zap.NewNop())
	require.NoError(t, err)
	engine, err := NewEngine(store, svc, cfg, zap.NewNop())
	require.NoError(t, err)
	return &harness{engine: engine, store: store, storage: svc}
}

// seed inserts a context with the given confidence and age in days.
func (h *harness) seed(t *testing.T, workspace string, confidence float64, ageDays float64) *contexts.Context {
	t.Helper()
	ts := time.Now().UTC().Add(-time.Duration(ageDays * 24 * float64(time.Hour)))
	created, err := h.store.Insert(context.Background(), &contexts.Context{
		WorkspaceID:  workspace,
		Tier:         contexts.TierWorkspace,
		Type:         contexts.TypeConversation,
		Content:      "seeded content",
		Metadata:     contexts.Metadata{Confidence: confidence},
		CreatedAt:    ts,
		UpdatedAt:    ts,
		LastAccessed: ts,
	})
	require.NoError(t, err)
	return created
}

func (h *harness) confidence(t *testing.T, id string) float64 {
	t.Helper()
	got, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return got.Metadata.Confidence
}

func TestProcessFeedback_HelpfulIncreasesConfidence(t *testing.T) {
	h := newHarness(t, Config{})
	seeded := h.seed(t, "ws-1", 0.5, 0)

	err := h.engine.ProcessFeedback(context.Background(), contexts.FeedbackEvent{
		ContextID: seeded.ID,
		Helpful:   true,
		Used:      true,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	// 0.5*(1-0.2) + 1.0*0.2 = 0.6
	assert.InDelta(t, 0.6, h.confidence(t, seeded.ID), 1e-9)
}

func TestProcessFeedback_UnhelpfulDecreasesConfidence(t *testing.T) {
	h := newHarness(t, Config{})
	seeded := h.seed(t, "ws-1", 0.5, 0)

	err := h.engine.ProcessFeedback(context.Background(), contexts.FeedbackEvent{
		ContextID: seeded.ID,
		Helpful:   false,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	// 0.5*0.8 + 0.0*0.2 = 0.4
	assert.InDelta(t, 0.4, h.confidence(t, seeded.ID), 1e-9)
}

func TestProcessFeedback_RatingOverridesHelpful(t *testing.T) {
	h := newHarness(t, Config{})
	seeded := h.seed(t, "ws-1", 0.5, 0)

	rating := 5
	err := h.engine.ProcessFeedback(context.Background(), contexts.FeedbackEvent{
		ContextID: seeded.ID,
		Helpful:   false,
		Rating:    &rating,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	// rating 5 maps to signal 1.0 regardless of the helpful flag
	assert.InDelta(t, 0.6, h.confidence(t, seeded.ID), 1e-9)
}

func TestProcessFeedback_UnknownContextIsNoOp(t *testing.T) {
	h := newHarness(t, Config{})

	err := h.engine.ProcessFeedback(context.Background(), contexts.FeedbackEvent{
		ContextID: "missing",
		Helpful:   true,
		Timestamp: time.Now(),
	})
	assert.NoError(t, err)
}

func TestProcessFeedback_InvalidRating(t *testing.T) {
	h := newHarness(t, Config{})
	rating := 9
	err := h.engine.ProcessFeedback(context.Background(), contexts.FeedbackEvent{
		ContextID: "whatever",
		Rating:    &rating,
		Timestamp: time.Now(),
	})
	assert.ErrorIs(t, err, contexts.ErrValidation)
}

func TestEvolve_DecayIsMonotonic(t *testing.T) {
	h := newHarness(t, Config{})
	seeded := h.seed(t, "ws-1", 0.9, 30)

	req := EvolveRequest{WorkspaceID: "ws-1", ApplyTemporalDecay: true}

	first, err := h.engine.Evolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)
	afterFirst := h.confidence(t, seeded.ID)
	assert.Less(t, afterFirst, 0.9)

	// Decay reapplies against the already-decayed value: strictly
	// decreasing on every run, by design.
	second, err := h.engine.Evolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Updated)
	afterSecond := h.confidence(t, seeded.ID)
	assert.Less(t, afterSecond, afterFirst)
}

func TestEvolve_PreservesUpdatedAt(t *testing.T) {
	h := newHarness(t, Config{})
	seeded := h.seed(t, "ws-1", 0.9, 30)

	_, err := h.engine.Evolve(context.Background(), EvolveRequest{
		WorkspaceID: "ws-1", ApplyTemporalDecay: true,
	})
	require.NoError(t, err)

	got, err := h.store.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.UpdatedAt.UnixNano(), got.UpdatedAt.UnixNano(),
		"a decay sweep is not a content mutation")
}

func TestEvolve_SkipsNegligibleChanges(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "ws-1", 0.9, 0) // zero age, decay factor ~1

	result, err := h.engine.Evolve(context.Background(), EvolveRequest{
		WorkspaceID: "ws-1", ApplyTemporalDecay: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)
}

func TestEvolve_FlagsLowConfidence(t *testing.T) {
	h := newHarness(t, Config{MinConfidenceThreshold: 0.3})
	doomed := h.seed(t, "ws-1", 0.31, 365)
	healthy := h.seed(t, "ws-1", 0.9, 1)

	result, err := h.engine.Evolve(context.Background(), EvolveRequest{
		WorkspaceID: "ws-1", ApplyTemporalDecay: true,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Flagged, doomed.ID)
	assert.NotContains(t, result.Flagged, healthy.ID)

	// Flagged, not removed.
	_, err = h.store.Get(context.Background(), doomed.ID)
	assert.NoError(t, err)
}

func TestEvolve_DeleteFlagged(t *testing.T) {
	h := newHarness(t, Config{MinConfidenceThreshold: 0.3, DeleteFlagged: true})
	doomed := h.seed(t, "ws-1", 0.31, 365)

	_, err := h.engine.Evolve(context.Background(), EvolveRequest{
		WorkspaceID: "ws-1", ApplyTemporalDecay: true,
	})
	require.NoError(t, err)

	_, err = h.store.Get(context.Background(), doomed.ID)
	assert.ErrorIs(t, err, contexts.ErrNotFound)
}

func TestEvolve_NoOpPassesAccepted(t *testing.T) {
	h := newHarness(t, Config{})
	seeded := h.seed(t, "ws-1", 0.8, 100)

	result, err := h.engine.Evolve(context.Background(), EvolveRequest{
		WorkspaceID:        "ws-1",
		ConsolidateSimilar: true,
		ResolveConflicts:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Consolidated)
	assert.Equal(t, 0, result.ConflictsResolved)

	// Without the decay pass nothing changed.
	assert.InDelta(t, 0.8, h.confidence(t, seeded.ID), 1e-9)
}

func TestEvolve_HonorsCancellationBetweenBatches(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 1})
	h.seed(t, "ws-1", 0.9, 30)
	h.seed(t, "ws-1", 0.9, 30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.engine.Evolve(ctx, EvolveRequest{
		WorkspaceID: "ws-1", ApplyTemporalDecay: true,
	})
	require.ErrorIs(t, err, context.Canceled)
	// The first batch completed before the cancellation check.
	assert.Equal(t, 1, result.Updated)
}

func TestGetEvolutionStats(t *testing.T) {
	h := newHarness(t, Config{MinConfidenceThreshold: 0.3})
	h.seed(t, "ws-1", 1.0, 0)
	h.seed(t, "ws-1", 0.5, 0)
	h.seed(t, "ws-1", 0.1, 0)
	h.seed(t, "ws-other", 0.2, 0)

	stats, err := h.engine.GetEvolutionStats(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalContexts)
	assert.Equal(t, 1, stats.LowConfidenceContexts)
	assert.InDelta(t, (1.0+0.5+0.1)/3, stats.AverageConfidence, 1e-9)
}

func TestSchedulerLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	s, err := NewScheduler(h.engine, zap.NewNop(),
		WithInterval(time.Hour),
		WithWorkspaces([]string{"ws-1"}))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start is rejected")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "double stop is a no-op")

	// Restart works after a clean stop.
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}
