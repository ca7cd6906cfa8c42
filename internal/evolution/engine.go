// Package evolution mutates context confidence over time: feedback
// events pull confidence toward an observed signal, and temporal decay
// sweeps erode it as contexts go stale.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
	"github.com/fyrsmithlabs/contextcore/internal/primarystore"
	"github.com/fyrsmithlabs/contextcore/internal/storage"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/contextcore/internal/evolution")

// Config holds tunables for the evolution engine.
type Config struct {
	// SmoothingAlpha weights a feedback signal against the current
	// confidence: conf = conf*(1-alpha) + signal*alpha. Default: 0.2.
	SmoothingAlpha float64

	// DecayRate erodes confidence per day of age during decay sweeps.
	// Default: 0.01.
	DecayRate float64

	// MinConfidenceThreshold flags contexts whose decayed confidence
	// falls below it. Default: 0.3.
	MinConfidenceThreshold float64

	// Epsilon is the smallest confidence change worth persisting.
	// Default: 1e-6.
	Epsilon float64

	// BatchSize bounds each decay sweep batch. Default: 100.
	BatchSize int

	// DeleteFlagged removes flagged contexts instead of only reporting
	// them. Default: false.
	DeleteFlagged bool
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SmoothingAlpha == 0 {
		c.SmoothingAlpha = 0.2
	}
	if c.DecayRate == 0 {
		c.DecayRate = 0.01
	}
	if c.MinConfidenceThreshold == 0 {
		c.MinConfidenceThreshold = 0.3
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-6
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Validate rejects configurations outside sensible ranges.
func (c Config) Validate() error {
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return fmt.Errorf("%w: smoothing alpha %v outside (0,1]", contexts.ErrValidation, c.SmoothingAlpha)
	}
	if c.DecayRate < 0 {
		return fmt.Errorf("%w: decay rate must be non-negative", contexts.ErrValidation)
	}
	if c.MinConfidenceThreshold < 0 || c.MinConfidenceThreshold > 1 {
		return fmt.Errorf("%w: min confidence threshold %v outside [0,1]", contexts.ErrValidation, c.MinConfidenceThreshold)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", contexts.ErrValidation)
	}
	return nil
}

// Engine applies feedback and decay to stored contexts.
//
// Feedback goes through the storage service so it is versioned like any
// other metadata change. Decay sweeps write to the primary store
// directly, preserving updatedAt: a sweep is not a content mutation, and
// resetting the age on every sweep would neutralize the decay.
type Engine struct {
	store   primarystore.Store
	storage *storage.Service
	config  Config
	logger  *zap.Logger
}

// NewEngine creates an evolution engine.
func NewEngine(store primarystore.Store, storageSvc *storage.Service, config Config, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if storageSvc == nil {
		return nil, errors.New("storage service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{store: store, storage: storageSvc, config: config, logger: logger}, nil
}

// ProcessFeedback folds one feedback event into the referenced context's
// confidence. Unknown context ids are a logged no-op.
func (e *Engine) ProcessFeedback(ctx context.Context, event contexts.FeedbackEvent) error {
	ctx, span := tracer.Start(ctx, "evolution.ProcessFeedback")
	defer span.End()
	span.SetAttributes(attribute.String("context_id", event.ContextID))

	if err := event.Validate(); err != nil {
		return err
	}

	record, err := e.store.Get(ctx, event.ContextID)
	if err != nil {
		if errors.Is(err, contexts.ErrNotFound) {
			e.logger.Info("feedback for unknown context, ignoring",
				zap.String("context_id", event.ContextID))
			return nil
		}
		return err
	}

	signal := event.Signal()
	alpha := e.config.SmoothingAlpha
	updated := clamp01(record.Metadata.Confidence*(1-alpha) + signal*alpha)

	metadata := record.Metadata.Clone()
	metadata.Confidence = updated
	if _, err := e.storage.Update(ctx, storage.UpdateRequest{
		ID:       record.ID,
		Metadata: &metadata,
	}); err != nil {
		return fmt.Errorf("persisting feedback: %w", err)
	}

	e.logger.Debug("feedback applied",
		zap.String("context_id", record.ID),
		zap.Float64("signal", signal),
		zap.Float64("confidence", updated))
	return nil
}

// EvolveRequest selects which evolution passes to run over a workspace.
type EvolveRequest struct {
	WorkspaceID        string
	ApplyTemporalDecay bool

	// ConsolidateSimilar and ResolveConflicts are accepted but not
	// implemented; requesting them never errors.
	ConsolidateSimilar bool
	ResolveConflicts   bool
}

// EvolutionResult summarizes one evolve run.
type EvolutionResult struct {
	Updated           int
	Consolidated      int
	ConflictsResolved int

	// Flagged lists context ids whose confidence fell below the
	// configured minimum. They are deleted only when DeleteFlagged is
	// set; otherwise the caller decides.
	Flagged []string

	Summary string
}

// Evolve runs the requested passes over a workspace in bounded batches.
// Cancellation is honored between batches; a partial sweep is fine since
// batches are independent.
//
// Decay is reapplied against the already-decayed value, so repeated
// sweeps without intervening feedback strictly decrease confidence.
// That monotonicity is intentional.
func (e *Engine) Evolve(ctx context.Context, req EvolveRequest) (*EvolutionResult, error) {
	ctx, span := tracer.Start(ctx, "evolution.Evolve")
	defer span.End()
	span.SetAttributes(attribute.String("workspace_id", req.WorkspaceID))

	if req.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id required", contexts.ErrValidation)
	}

	result := &EvolutionResult{}
	if req.ConsolidateSimilar {
		e.logger.Info("consolidation requested but not implemented, skipping",
			zap.String("workspace_id", req.WorkspaceID))
	}
	if req.ResolveConflicts {
		e.logger.Info("conflict resolution requested but not implemented, skipping",
			zap.String("workspace_id", req.WorkspaceID))
	}
	if !req.ApplyTemporalDecay {
		result.Summary = "no passes requested"
		return result, nil
	}

	now := time.Now().UTC()
	offset := 0
	for {
		batch, err := e.store.Find(ctx, primarystore.Query{
			WorkspaceID: req.WorkspaceID,
			Limit:       e.config.BatchSize,
			Offset:      offset,
		})
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		for _, record := range batch {
			changed, flagged, err := e.decayOne(ctx, record, now)
			if err != nil {
				return result, err
			}
			if changed {
				result.Updated++
			}
			if flagged {
				result.Flagged = append(result.Flagged, record.ID)
			}
		}

		offset += len(batch)
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	if e.config.DeleteFlagged {
		deleted, err := e.storage.DeleteBatch(ctx, result.Flagged)
		if err != nil {
			return result, fmt.Errorf("deleting flagged contexts: %w", err)
		}
		e.logger.Info("deleted flagged contexts",
			zap.String("workspace_id", req.WorkspaceID),
			zap.Int("deleted", deleted))
	}

	result.Summary = fmt.Sprintf("decayed %d contexts, flagged %d", result.Updated, len(result.Flagged))
	span.SetAttributes(
		attribute.Int("updated", result.Updated),
		attribute.Int("flagged", len(result.Flagged)),
	)
	return result, nil
}

// decayOne applies temporal decay to a single record. The write goes
// straight to the primary store with updatedAt untouched.
func (e *Engine) decayOne(ctx context.Context, record *contexts.Context, now time.Time) (changed, flagged bool, err error) {
	ageDays := now.Sub(record.UpdatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	decayed := clamp01(record.Metadata.Confidence * math.Exp(-e.config.DecayRate*ageDays))

	if math.Abs(decayed-record.Metadata.Confidence) > e.config.Epsilon {
		record.Metadata.Confidence = decayed
		if err := e.store.Update(ctx, record); err != nil {
			return false, false, fmt.Errorf("persisting decay for %s: %w", record.ID, err)
		}
		changed = true
	}
	return changed, decayed < e.config.MinConfidenceThreshold, nil
}

// Stats summarizes confidence across a workspace.
type Stats struct {
	AverageConfidence     float64
	LowConfidenceContexts int
	TotalContexts         int
}

// GetEvolutionStats computes confidence statistics for a workspace.
func (e *Engine) GetEvolutionStats(ctx context.Context, workspaceID string) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "evolution.GetEvolutionStats")
	defer span.End()
	span.SetAttributes(attribute.String("workspace_id", workspaceID))

	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id required", contexts.ErrValidation)
	}

	stats := &Stats{}
	var sum float64
	offset := 0
	for {
		batch, err := e.store.Find(ctx, primarystore.Query{
			WorkspaceID: workspaceID,
			Limit:       e.config.BatchSize,
			Offset:      offset,
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, record := range batch {
			sum += record.Metadata.Confidence
			if record.Metadata.Confidence < e.config.MinConfidenceThreshold {
				stats.LowConfidenceContexts++
			}
			stats.TotalContexts++
		}
		offset += len(batch)
	}

	if stats.TotalContexts > 0 {
		stats.AverageConfidence = sum / float64(stats.TotalContexts)
	}
	return stats, nil
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
