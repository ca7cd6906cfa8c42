package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the on-disk database directory. Empty means in-memory.
	Path string

	// Collection is the collection holding context documents.
	Collection string

	// VectorSize is the embedding dimensionality. Must match the
	// embedding provider's output.
	VectorSize int

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// Validate checks the configuration.
func (c ChromemConfig) Validate() error {
	if c.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex is an Index backed by the embedded chromem-go store.
// It needs no external server, which makes it the default for
// single-machine deployments.
type ChromemIndex struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
}

// NewChromemIndex opens (or creates) the chromem database and collection.
func NewChromemIndex(config ChromemConfig) (*ChromemIndex, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var db *chromem.DB
	var err error
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db: %v", ErrConnectionFailed, err)
		}
	}

	// Embeddings are always supplied by the caller, so the collection's
	// embedding func must never run.
	noEmbed := func(_ context.Context, _ string) ([]float32, error) {
		return nil, errors.New("chromem index requires precomputed embeddings")
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("%w: opening collection %s: %v", ErrConnectionFailed, config.Collection, err)
	}
	return &ChromemIndex{db: db, collection: collection, config: config}, nil
}

// Close is a no-op; chromem persists on every write.
func (c *ChromemIndex) Close() error { return nil }

// Upsert inserts or replaces documents by id.
func (c *ChromemIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		if len(p.Vector) != c.config.VectorSize {
			return fmt.Errorf("%w: point %s has %d dims, collection expects %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), c.config.VectorSize)
		}
		docs[i] = chromem.Document{
			ID:        p.ID,
			Metadata:  toChromemMetadata(p.Payload),
			Embedding: p.Vector,
			// chromem rejects documents with empty content; the id is a
			// harmless stand-in since content never leaves the primary store.
			Content: p.ID,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Replace semantics: chromem's AddDocuments errors on duplicate ids.
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("replacing documents: %w", err)
	}
	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Search returns the nearest documents matching the filter.
func (c *ChromemIndex) Search(ctx context.Context, vector []float32, limit int, filter map[string]any) ([]Hit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidConfig)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects nResults above the collection size.
	n := limit
	if n > count {
		n = count
	}
	results, err := c.collection.QueryEmbedding(ctx, vector, n, toChromemMetadata(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: fromChromemMetadata(r.Metadata),
		})
	}
	return hits, nil
}

// Delete removes documents by id.
func (c *ChromemIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// DeleteByFilter removes every document matching the filter.
func (c *ChromemIndex) DeleteByFilter(ctx context.Context, filter map[string]any) error {
	where := toChromemMetadata(filter)
	if len(where) == 0 {
		return fmt.Errorf("%w: delete-by-filter requires a non-empty filter", ErrInvalidConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("deleting by filter: %w", err)
	}
	return nil
}

// ListIDs returns every document id for a workspace. chromem has no scan
// API, so this queries the whole collection and filters client-side.
func (c *ChromemIndex) ListIDs(ctx context.Context, workspaceID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := c.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// Any unit vector of the right dimensionality returns every document
	// when nResults equals the collection size; only ids and metadata
	// are read from the results.
	probe := make([]float32, c.config.VectorSize)
	probe[0] = 1
	results, err := c.collection.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	var ids []string
	for _, r := range results {
		if r.Metadata["workspace_id"] == workspaceID {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// toChromemMetadata converts a payload to chromem's string-valued metadata.
func toChromemMetadata(payload map[string]any) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

// fromChromemMetadata restores typed values from string metadata so hits
// look the same regardless of backend.
func fromChromemMetadata(metadata map[string]string) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = i
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out
}
