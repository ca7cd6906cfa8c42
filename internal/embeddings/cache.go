package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// CachedProvider wraps a Provider with an LRU cache keyed by text hash.
// Retrieval workloads repeat queries often, so even a small cache cuts
// most round-trips to the embedding server.
type CachedProvider struct {
	inner   Provider
	cache   *lru.Cache[string, []float32]
	metrics *Metrics
	logger  *zap.Logger
}

// NewCachedProvider wraps inner with an LRU cache of the given size.
func NewCachedProvider(inner Provider, size int, logger *zap.Logger) (*CachedProvider, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: inner provider required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d: %v", ErrInvalidConfig, size, err)
	}
	return &CachedProvider{
		inner:   inner,
		cache:   cache,
		metrics: NewMetrics(logger),
		logger:  logger,
	}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return string(sum[:])
}

// EmbedQuery returns a cached embedding when available.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		c.metrics.RecordCacheLookup(ctx, true)
		return vec, nil
	}
	c.metrics.RecordCacheLookup(ctx, false)

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedDocuments embeds only the texts missing from the cache and
// reassembles results in input order.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			c.metrics.RecordCacheLookup(ctx, true)
			out[i] = vec
			continue
		}
		c.metrics.RecordCacheLookup(ctx, false)
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		idx := missingIdx[j]
		out[idx] = vec
		c.cache.Add(cacheKey(texts[idx]), vec)
	}
	return out, nil
}

// Dimension returns the inner provider's dimension.
func (c *CachedProvider) Dimension() int {
	return c.inner.Dimension()
}

// Close closes the inner provider.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
