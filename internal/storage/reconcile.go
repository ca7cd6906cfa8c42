package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/vectorindex"
)

// ReconcileResult summarizes one repair pass over a workspace.
type ReconcileResult struct {
	// Reindexed counts records present in the primary store but missing
	// from the vector index that were re-embedded and upserted.
	Reindexed int

	// Removed counts stale index entries whose primary record is gone.
	Removed int

	// Failed counts records that could not be repaired this pass.
	Failed int
}

// Reconcile repairs drift between the primary store and the vector
// index for one workspace. The primary store wins: missing index entries
// are rebuilt from it, orphaned index entries are deleted.
func (s *Service) Reconcile(ctx context.Context, workspaceID string) (*ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "storage.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("workspace_id", workspaceID))

	primaryIDs, err := s.store.ListIDs(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing primary ids: %w", err)
	}
	indexIDs, err := s.index.ListIDs(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing index ids: %w", err)
	}

	inPrimary := make(map[string]bool, len(primaryIDs))
	for _, id := range primaryIDs {
		inPrimary[id] = true
	}
	inIndex := make(map[string]bool, len(indexIDs))
	for _, id := range indexIDs {
		inIndex[id] = true
	}

	var missing []string
	for _, id := range primaryIDs {
		if !inIndex[id] {
			missing = append(missing, id)
		}
	}
	var stale []string
	for _, id := range indexIDs {
		if !inPrimary[id] {
			stale = append(stale, id)
		}
	}

	result := &ReconcileResult{}
	if len(stale) > 0 {
		if err := s.index.Delete(ctx, stale); err != nil {
			s.logger.Warn("removing stale index entries failed",
				zap.String("workspace_id", workspaceID),
				zap.Int("count", len(stale)),
				zap.Error(err))
			result.Failed += len(stale)
		} else {
			result.Removed = len(stale)
		}
	}

	for start := 0; start < len(missing); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		reindexed, failed := s.reindexChunk(ctx, missing[start:end])
		result.Reindexed += reindexed
		result.Failed += failed

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	s.logger.Info("reconcile pass complete",
		zap.String("workspace_id", workspaceID),
		zap.Int("reindexed", result.Reindexed),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed))
	span.SetAttributes(
		attribute.Int("reindexed", result.Reindexed),
		attribute.Int("removed", result.Removed),
		attribute.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) reindexChunk(ctx context.Context, ids []string) (reindexed, failed int) {
	records, err := s.store.GetBatch(ctx, ids)
	if err != nil {
		s.logger.Warn("fetching records for reindex failed",
			zap.Int("count", len(ids)), zap.Error(err))
		return 0, len(ids)
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Content
	}
	if len(texts) == 0 {
		return 0, 0
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		s.logger.Warn("re-embedding for reindex failed",
			zap.Int("count", len(records)), zap.Error(err))
		return 0, len(records)
	}

	points := make([]vectorindex.Point, len(records))
	for i, record := range records {
		points[i] = vectorindex.Point{
			ID:      record.ID,
			Vector:  vectors[i],
			Payload: record.IndexPayload(),
		}
	}
	if err := s.index.Upsert(ctx, points); err != nil {
		s.logger.Warn("reindex upsert failed",
			zap.Int("count", len(points)), zap.Error(err))
		return 0, len(points)
	}
	return len(points), 0
}
