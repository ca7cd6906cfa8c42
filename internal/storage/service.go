package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
	"github.com/fyrsmithlabs/contextcore/internal/embeddings"
	"github.com/fyrsmithlabs/contextcore/internal/primarystore"
	"github.com/fyrsmithlabs/contextcore/internal/vectorindex"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/contextcore/internal/storage")

// Config holds tunables for the storage service.
type Config struct {
	// BatchSize caps how many items a single collaborator call carries.
	// Default: 50.
	BatchSize int

	// MaxVersions bounds version history per context; older versions
	// are pruned. Default: 10.
	MaxVersions int

	// IndexMaxRetries caps retry attempts for vector index writes.
	// Default: 3.
	IndexMaxRetries uint64

	// IndexRetryInterval is the initial backoff delay for index writes.
	// Default: 100ms.
	IndexRetryInterval time.Duration

	// FailureBufferSize bounds the IndexFailures channel. When full,
	// new failures are logged and dropped. Default: 256.
	FailureBufferSize int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.MaxVersions == 0 {
		c.MaxVersions = 10
	}
	if c.IndexMaxRetries == 0 {
		c.IndexMaxRetries = 3
	}
	if c.IndexRetryInterval == 0 {
		c.IndexRetryInterval = 100 * time.Millisecond
	}
	if c.FailureBufferSize == 0 {
		c.FailureBufferSize = 256
	}
}

// IndexFailure describes a vector index write that failed after the
// primary store write succeeded. The record is durable but temporarily
// unsearchable until Reconcile repairs it.
type IndexFailure struct {
	ContextID   string
	WorkspaceID string
	Op          string // "upsert" or "delete"
	Err         error
	At          time.Time
}

// Service coordinates dual writes and versioning for contexts.
type Service struct {
	store    primarystore.Store
	index    vectorindex.Index
	embedder embeddings.Provider
	config   Config
	logger   *zap.Logger
	failures chan IndexFailure
}

// NewService creates a storage service. All three collaborators are
// required; the service does not own their lifecycles.
func NewService(store primarystore.Store, index vectorindex.Index, embedder embeddings.Provider, config Config, logger *zap.Logger) (*Service, error) {
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

	return &Service{
		store:    store,
		index:    index,
		embedder: embedder,
		config:   config,
		logger:   logger,
		failures: make(chan IndexFailure, config.FailureBufferSize),
	}, nil
}

// IndexFailures exposes index write failures for repair tooling. The
// channel is never closed; consumers select on it alongside their own
// shutdown signal.
func (s *Service) IndexFailures() <-chan IndexFailure {
	return s.failures
}

// CreateRequest describes a context to create.
type CreateRequest struct {
	WorkspaceID string
	Tier        contexts.Tier
	Type        contexts.Type
	Content     string
	Metadata    contexts.Metadata

	// GenerateEmbeddings embeds Content before writing.
	GenerateEmbeddings bool
	// IndexInVectorDB upserts the embedding into the vector index.
	// Ignored unless GenerateEmbeddings produced a vector.
	IndexInVectorDB bool
}

// Create validates the request, writes the record to the primary store,
// and upserts its embedding into the vector index. An index failure
// after a successful primary write still returns success; see
// IndexFailures.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*contexts.Context, error) {
	ctx, span := tracer.Start(ctx, "storage.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("workspace_id", req.WorkspaceID),
		attribute.String("tier", string(req.Tier)),
	)

	now := time.Now().UTC()
	record := &contexts.Context{
		WorkspaceID:  req.WorkspaceID,
		Tier:         req.Tier,
		Type:         req.Type,
		Content:      req.Content,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
	}
	if record.Metadata.Confidence == 0 {
		record.Metadata.Confidence = contexts.DefaultConfidence
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	if req.GenerateEmbeddings {
		vector, err := s.embedder.EmbedQuery(ctx, record.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contexts.ErrEmbeddingFailed, err)
		}
		record.Embedding = vector
	}

	created, err := s.store.Insert(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("inserting context: %w", err)
	}
	created.Embedding = record.Embedding

	if req.IndexInVectorDB && len(created.Embedding) > 0 {
		s.upsertIndex(ctx, created)
	}
	return created, nil
}

// UpdateRequest describes a patch to an existing context. Nil fields are
// left unchanged.
type UpdateRequest struct {
	ID       string
	Content  *string
	Metadata *contexts.Metadata

	// RegenerateEmbeddings re-embeds and re-indexes when Content changed.
	RegenerateEmbeddings bool
}

// Update applies the patch, validates and re-embeds the result, and only
// then snapshots the previous content and metadata into a new version.
// A rejected or failed update leaves the version history untouched.
// Content changes re-embed and re-index when requested; metadata-only
// patches touch the primary store alone, since the index payload carries
// no metadata fields.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*contexts.Context, error) {
	ctx, span := tracer.Start(ctx, "storage.Update")
	defer span.End()
	span.SetAttributes(attribute.String("context_id", req.ID))

	if req.ID == "" {
		return nil, fmt.Errorf("%w: id required", contexts.ErrValidation)
	}

	current, err := s.store.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	contentChanged := false
	if req.Content != nil && *req.Content != current.Content {
		updated.Content = *req.Content
		contentChanged = true
	}
	if req.Metadata != nil {
		updated.Metadata = req.Metadata.Clone()
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if contentChanged && req.RegenerateEmbeddings {
		vector, err := s.embedder.EmbedQuery(ctx, updated.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contexts.ErrEmbeddingFailed, err)
		}
		updated.Embedding = vector
	}

	// Snapshot only once the patch is known good; failed updates must not
	// spend version-history slots.
	if err := s.snapshotVersion(ctx, current); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("updating context: %w", err)
	}

	// Metadata-only patches skip the index on purpose: the payload's
	// updated_at_unix is allowed to go stale because hydration always
	// reloads the record from the primary store.
	if contentChanged && req.RegenerateEmbeddings && len(updated.Embedding) > 0 {
		s.upsertIndex(ctx, updated)
	}
	return updated, nil
}

// Delete removes a context from the primary store and best-effort from
// the vector index. Returns false when the id is unknown.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "storage.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("context_id", id))

	record, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, contexts.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, contexts.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("deleting context: %w", err)
	}

	// A stale index entry that survives this is filtered at hydration
	// time and cleaned up by Reconcile.
	if err := s.index.Delete(ctx, []string{id}); err != nil {
		s.reportIndexFailure(IndexFailure{
			ContextID:   id,
			WorkspaceID: record.WorkspaceID,
			Op:          "delete",
			Err:         err,
			At:          time.Now().UTC(),
		})
	}
	return true, nil
}

// Get returns a single context by id.
func (s *Service) Get(ctx context.Context, id string) (*contexts.Context, error) {
	return s.store.Get(ctx, id)
}

// upsertIndex writes the record's embedding to the vector index with
// retries. Failures are reported, never returned.
func (s *Service) upsertIndex(ctx context.Context, record *contexts.Context) {
	point := vectorindex.Point{
		ID:      record.ID,
		Vector:  record.Embedding,
		Payload: record.IndexPayload(),
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(s.config.IndexRetryInterval),
		), s.config.IndexMaxRetries),
		ctx,
	)
	err := backoff.Retry(func() error {
		return s.index.Upsert(ctx, []vectorindex.Point{point})
	}, policy)
	if err != nil {
		s.reportIndexFailure(IndexFailure{
			ContextID:   record.ID,
			WorkspaceID: record.WorkspaceID,
			Op:          "upsert",
			Err:         err,
			At:          time.Now().UTC(),
		})
	}
}

func (s *Service) reportIndexFailure(failure IndexFailure) {
	s.logger.Warn("vector index write failed, record remains durable",
		zap.String("context_id", failure.ContextID),
		zap.String("workspace_id", failure.WorkspaceID),
		zap.String("op", failure.Op),
		zap.Error(failure.Err))

	select {
	case s.failures <- failure:
	default:
		s.logger.Warn("index failure buffer full, dropping report",
			zap.String("context_id", failure.ContextID))
	}
}
