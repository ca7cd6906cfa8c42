// Package retriever implements hierarchical multi-tier retrieval:
// query expansion, tiered vector search with primary-store hydration,
// multi-factor re-ranking, diversity selection, and fire-and-forget
// usage tracking.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
	"github.com/fyrsmithlabs/contextcore/internal/embeddings"
	"github.com/fyrsmithlabs/contextcore/internal/primarystore"
	"github.com/fyrsmithlabs/contextcore/internal/vectorindex"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/contextcore/internal/retriever")

// Entity is a typed hint extracted from the caller's prompt. High
// confidence entities expand the query before embedding.
type Entity struct {
	Value      string
	Confidence float64
}

// Request describes one retrieval call.
type Request struct {
	WorkspaceID string
	Query       string
	Entities    []Entity

	// Limit caps returned contexts; 0 uses the configured default.
	Limit int
}

// Result is the outcome of one retrieval call.
type Result struct {
	Contexts []contexts.ScoredContext

	// TotalFound counts hydrated candidates before diversity selection.
	TotalFound int

	LatencyMs     int64
	TiersSearched []contexts.Tier
}

// Retriever runs the retrieval pipeline. Safe for concurrent use; all
// mutable state lives in the collaborators.
type Retriever struct {
	store    primarystore.Store
	index    vectorindex.Index
	embedder embeddings.Provider
	config   Config
	logger   *zap.Logger
	usage    *usageTracker
	metrics  *Metrics
}

// New creates a retriever. The configuration is validated here so a
// malformed config fails fast instead of producing wrong rankings.
func New(store primarystore.Store, index vectorindex.Index, embedder embeddings.Provider, config Config, logger *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if index == nil {
		return nil, errors.New("index is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Retriever{
		store:    store,
		index:    index,
		embedder: embedder,
		config:   config,
		logger:   logger,
		usage:    newUsageTracker(store, config.UsageWorkers, config.UsageWritesPerSecond, logger),
		metrics:  NewMetrics(),
	}, nil
}

// Close drains in-flight usage-tracking writes.
func (r *Retriever) Close() error {
	r.usage.Close()
	return nil
}

// Retrieve runs the full pipeline and returns ranked, de-duplicated
// contexts. An empty query returns an empty result without touching the
// embedding provider.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("workspace_id", req.WorkspaceID))

	if req.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id required", contexts.ErrValidation)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = r.config.DefaultLimit
	}

	if strings.TrimSpace(req.Query) == "" {
		r.metrics.RetrievalsTotal.WithLabelValues("empty_query").Inc()
		return &Result{LatencyMs: time.Since(start).Milliseconds()}, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, r.expandQuery(req.Query, req.Entities))
	if err != nil {
		r.metrics.RetrievalsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", contexts.ErrEmbeddingFailed, err)
	}

	candidates, tiersSearched, err := r.searchTiers(ctx, req.WorkspaceID, vector, limit)
	if err != nil {
		r.metrics.RetrievalsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	rankCandidates(candidates, r.config.Weights, r.config.FreshnessDecayRate, time.Now().UTC())
	accepted := selectDiverse(candidates, limit, r.config.DuplicateThreshold)

	ids := make([]string, len(accepted))
	for i, sc := range accepted {
		ids[i] = sc.Context.ID
	}
	r.usage.Track(ids)

	elapsed := time.Since(start)
	r.metrics.RetrievalsTotal.WithLabelValues("ok").Inc()
	r.metrics.RetrievalDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("total_found", len(candidates)),
		attribute.Int("returned", len(accepted)),
	)

	return &Result{
		Contexts:      accepted,
		TotalFound:    len(candidates),
		LatencyMs:     elapsed.Milliseconds(),
		TiersSearched: tiersSearched,
	}, nil
}

// expandQuery appends high-confidence entity values to the query text.
// Entities at or below the threshold are ignored entirely.
func (r *Retriever) expandQuery(query string, entities []Entity) string {
	var extra []string
	for _, e := range entities {
		if e.Confidence > r.config.EntityConfidenceThreshold && e.Value != "" {
			extra = append(extra, e.Value)
		}
	}
	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}

// searchTiers walks the fixed tier order, searching each tier and
// hydrating hits from the primary store. The workspace tier is always
// searched; later tiers may be skipped once enough high-confidence
// candidates have accumulated, and a slow tier is abandoned at its
// timeout rather than blocking the whole request.
func (r *Retriever) searchTiers(ctx context.Context, workspaceID string, vector []float32, limit int) ([]contexts.ScoredContext, []contexts.Tier, error) {
	var (
		candidates    []contexts.ScoredContext
		tiersSearched []contexts.Tier
		highConf      int
	)

	for _, tier := range contexts.TierSearchOrder {
		if tier != contexts.TierWorkspace && r.config.EarlyStopCount > 0 && highConf >= r.config.EarlyStopCount {
			break
		}

		hits, err := r.searchTier(ctx, workspaceID, tier, vector, limit*r.config.CandidateMultiplier)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && len(tiersSearched) > 0 {
				// Degraded result: return what earlier tiers gathered.
				r.logger.Warn("tier search timed out, returning partial result",
					zap.String("workspace_id", workspaceID),
					zap.String("tier", string(tier)))
				break
			}
			return nil, nil, fmt.Errorf("%w: searching tier %s: %v", contexts.ErrIndexUnavailable, tier, err)
		}
		tiersSearched = append(tiersSearched, tier)

		hydrated, err := r.hydrate(ctx, workspaceID, tier, hits)
		if err != nil {
			return nil, nil, err
		}
		for _, sc := range hydrated {
			if sc.Similarity >= r.config.EarlyStopConfidence {
				highConf++
			}
		}
		candidates = append(candidates, hydrated...)
	}
	return candidates, tiersSearched, nil
}

func (r *Retriever) searchTier(ctx context.Context, workspaceID string, tier contexts.Tier, vector []float32, limit int) ([]vectorindex.Hit, error) {
	tierCtx, cancel := context.WithTimeout(ctx, r.config.TierTimeout)
	defer cancel()

	return r.index.Search(tierCtx, vector, limit, map[string]any{
		"workspace_id": workspaceID,
		"tier":         string(tier),
	})
}

// hydrate resolves vector hits into full contexts via a batch fetch.
// Hits whose id no longer resolves are stale index entries: dropped,
// logged, never surfaced as errors.
func (r *Retriever) hydrate(ctx context.Context, workspaceID string, tier contexts.Tier, hits []vectorindex.Hit) ([]contexts.ScoredContext, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	records, err := r.store.GetBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*contexts.Context, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	out := make([]contexts.ScoredContext, 0, len(hits))
	for _, hit := range hits {
		record, ok := byID[hit.ID]
		if !ok {
			r.metrics.StaleIndexHitsTotal.Inc()
			r.logger.Info("dropping stale index hit",
				zap.String("context_id", hit.ID),
				zap.String("workspace_id", workspaceID),
				zap.String("tier", string(tier)))
			continue
		}
		out = append(out, contexts.ScoredContext{
			Context:    record,
			Similarity: clamp01(float64(hit.Score)),
		})
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
