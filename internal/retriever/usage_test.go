package retriever

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
	"github.com/fyrsmithlabs/contextcore/internal/primarystore"
)

// slowStore wraps MemoryStore and stalls TouchUsage while counting
// concurrent callers, so tests can observe the tracker's actual
// parallelism.
type slowStore struct {
	*primarystore.MemoryStore
	delay    time.Duration
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (s *slowStore) TouchUsage(ctx context.Context, id string, accessedAt time.Time) error {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if cur <= seen || s.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	time.Sleep(s.delay)
	return s.MemoryStore.TouchUsage(ctx, id, accessedAt)
}

func TestUsageTracker_RespectsConcurrencyBound(t *testing.T) {
	const workers = 2
	store := &slowStore{MemoryStore: primarystore.NewMemoryStore(), delay: 5 * time.Millisecond}
	tracker := newUsageTracker(store, workers, 1000, zap.NewNop())

	ctx := context.Background()
	var ids []string
	for i := 0; i < 20; i++ {
		created, err := store.Insert(ctx, &contexts.Context{
			WorkspaceID: "ws-1",
			Tier:        contexts.TierWorkspace,
			Type:        contexts.TypeFile,
			Content:     fmt.Sprintf("fact %d", i),
			Metadata:    contexts.Metadata{Confidence: 1},
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	tracker.Track(ids)
	tracker.Close()

	assert.LessOrEqual(t, store.maxSeen.Load(), int64(workers),
		"concurrent usage writes exceeded the semaphore weight")

	// Every dispatched write landed exactly once.
	for _, id := range ids {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Metadata.UsageCount)
	}
}

func TestUsageTracker_CloseRejectsNewWork(t *testing.T) {
	store := &slowStore{MemoryStore: primarystore.NewMemoryStore()}
	tracker := newUsageTracker(store, 2, 1000, zap.NewNop())

	ctx := context.Background()
	created, err := store.Insert(ctx, &contexts.Context{
		WorkspaceID: "ws-1",
		Tier:        contexts.TierWorkspace,
		Type:        contexts.TypeFile,
		Content:     "fact",
		Metadata:    contexts.Metadata{Confidence: 1},
	})
	require.NoError(t, err)

	tracker.Close()
	tracker.Track([]string{created.ID})
	tracker.Close()

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Metadata.UsageCount)
}
