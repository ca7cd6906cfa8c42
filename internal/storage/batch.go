package storage

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

// BatchError ties a failure to the position of the request that caused it.
type BatchError struct {
	Index int
	Err   error
}

func (e BatchError) Error() string { return e.Err.Error() }

func (e BatchError) Unwrap() error { return e.Err }

// CreateBatchResult reports per-item outcomes of a batch create. Batches
// are not atomic; partial success is normal.
type CreateBatchResult struct {
	Created []*contexts.Context
	Failed  []BatchError
}

// CreateBatch creates contexts in chunks bounded by the configured batch
// size. Embeddings for each chunk are generated in one provider call.
func (s *Service) CreateBatch(ctx context.Context, reqs []CreateRequest) (*CreateBatchResult, error) {
	ctx, span := tracer.Start(ctx, "storage.CreateBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("request_count", len(reqs)))

	result := &CreateBatchResult{}
	for start := 0; start < len(reqs); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		s.createChunk(ctx, reqs[start:end], start, result)

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}
	span.SetAttributes(
		attribute.Int("created", len(result.Created)),
		attribute.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Service) createChunk(ctx context.Context, reqs []CreateRequest, offset int, result *CreateBatchResult) {
	// One provider call per chunk. If the whole batch embed fails, fall
	// back to per-item creation so one bad input cannot sink the chunk.
	var vectors [][]float32
	embedAll := true
	texts := make([]string, len(reqs))
	for i, req := range reqs {
		if !req.GenerateEmbeddings || req.Content == "" {
			embedAll = false
			break
		}
		texts[i] = req.Content
	}
	if embedAll {
		var err error
		vectors, err = s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			s.logger.Warn("batch embedding failed, falling back to per-item", zap.Error(err))
			vectors = nil
		}
	}

	for i, req := range reqs {
		var created *contexts.Context
		var err error
		if vectors != nil {
			created, err = s.createPreEmbedded(ctx, req, vectors[i])
		} else {
			created, err = s.Create(ctx, req)
		}
		if err != nil {
			result.Failed = append(result.Failed, BatchError{Index: offset + i, Err: err})
			continue
		}
		result.Created = append(result.Created, created)
	}
}

// createPreEmbedded is Create with the embedding already generated.
func (s *Service) createPreEmbedded(ctx context.Context, req CreateRequest, vector []float32) (*contexts.Context, error) {
	inner := req
	inner.GenerateEmbeddings = false
	inner.IndexInVectorDB = false
	created, err := s.Create(ctx, inner)
	if err != nil {
		return nil, err
	}
	created.Embedding = vector
	if req.IndexInVectorDB {
		s.upsertIndex(ctx, created)
	}
	return created, nil
}

// GetBatch fetches contexts by id in bounded chunks. Unknown ids are
// skipped, mirroring the primary store contract.
func (s *Service) GetBatch(ctx context.Context, ids []string) ([]*contexts.Context, error) {
	ctx, span := tracer.Start(ctx, "storage.GetBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	var out []*contexts.Context
	for start := 0; start < len(ids); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := s.store.GetBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// DeleteBatch deletes contexts by id, best effort. It returns how many
// records were actually removed from the primary store.
func (s *Service) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	ctx, span := tracer.Start(ctx, "storage.DeleteBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	deleted := 0
	for _, id := range ids {
		ok, err := s.Delete(ctx, id)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
