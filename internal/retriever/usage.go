package retriever

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/contextcore/internal/primarystore"
)

// usageTracker applies retrieval side effects (usageCount increment,
// lastAccessed stamp) as detached background writes. Failures go to
// logs and metrics only; the originating retrieve call is never blocked
// or failed by them.
type usageTracker struct {
	store   primarystore.Store
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func newUsageTracker(store primarystore.Store, workers int, writesPerSecond float64, logger *zap.Logger) *usageTracker {
	return &usageTracker{
		store:   store,
		sem:     semaphore.NewWeighted(int64(workers)),
		limiter: rate.NewLimiter(rate.Limit(writesPerSecond), workers),
		logger:  logger,
		metrics: NewMetrics(),
	}
}

// Track dispatches one background write per id and returns immediately.
func (t *usageTracker) Track(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	accessedAt := time.Now().UTC()
	for _, id := range ids {
		t.wg.Add(1)
		go t.touch(id, accessedAt)
	}
}

func (t *usageTracker) touch(id string, accessedAt time.Time) {
	defer t.wg.Done()

	// Detached from the request context on purpose: the caller's
	// deadline must not cancel a side effect already dispatched.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.sem.Acquire(ctx, 1); err != nil {
		t.metrics.UsageUpdatesTotal.WithLabelValues("dropped").Inc()
		return
	}
	defer t.sem.Release(1)

	if err := t.limiter.Wait(ctx); err != nil {
		t.metrics.UsageUpdatesTotal.WithLabelValues("dropped").Inc()
		return
	}

	if err := t.store.TouchUsage(ctx, id, accessedAt); err != nil {
		t.metrics.UsageUpdatesTotal.WithLabelValues("error").Inc()
		t.logger.Warn("usage tracking write failed",
			zap.String("context_id", id),
			zap.Error(err))
		return
	}
	t.metrics.UsageUpdatesTotal.WithLabelValues("ok").Inc()
}

// Close waits for in-flight writes and rejects new ones.
func (t *usageTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}
