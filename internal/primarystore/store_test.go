package primarystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

// storeFactories lets every contract test run against both implementations.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func newTestContext(workspace string, tier contexts.Tier, typ contexts.Type, content string) *contexts.Context {
	now := time.Now().Truncate(time.Microsecond)
	return &contexts.Context{
		WorkspaceID: workspace,
		Tier:        tier,
		Type:        typ,
		Content:     content,
		Metadata: contexts.Metadata{
			Source:     "test",
			Tags:       []string{"a", "b"},
			Confidence: contexts.DefaultConfidence,
		},
		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			created, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierWorkspace, contexts.TypeFile, "hello"))
			require.NoError(t, err)
			require.NotEmpty(t, created.ID)

			got, err := s.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.Content, got.Content)
			assert.Equal(t, created.Metadata, got.Metadata)
			assert.Equal(t, created.WorkspaceID, got.WorkspaceID)
		})
	}
}

func TestStoreGetUnknown(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			_, err := s.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, contexts.ErrNotFound)
		})
	}
}

func TestStoreUpdateAndDelete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			created, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierWorkspace, contexts.TypeFile, "v1"))
			require.NoError(t, err)

			created.Content = "v2"
			created.UpdatedAt = created.UpdatedAt.Add(time.Second)
			require.NoError(t, s.Update(ctx, created))

			got, err := s.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, "v2", got.Content)

			require.NoError(t, s.Delete(ctx, created.ID))
			_, err = s.Get(ctx, created.ID)
			assert.ErrorIs(t, err, contexts.ErrNotFound)

			assert.ErrorIs(t, s.Delete(ctx, created.ID), contexts.ErrNotFound)
			assert.ErrorIs(t, s.Update(ctx, created), contexts.ErrNotFound)
		})
	}
}

func TestStoreGetBatchSkipsUnknown(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			a, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierWorkspace, contexts.TypeFile, "a"))
			require.NoError(t, err)
			b, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierGlobal, contexts.TypeSymbol, "b"))
			require.NoError(t, err)

			got, err := s.GetBatch(ctx, []string{a.ID, "missing", b.ID})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, a.ID, got[0].ID)
			assert.Equal(t, b.ID, got[1].ID)
		})
	}
}

func TestStoreFindFilters(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierWorkspace, contexts.TypeFile, "a"))
			require.NoError(t, err)
			_, err = s.Insert(ctx, newTestContext("ws-1", contexts.TierHybrid, contexts.TypeSymbol, "b"))
			require.NoError(t, err)
			_, err = s.Insert(ctx, newTestContext("ws-2", contexts.TierWorkspace, contexts.TypeFile, "c"))
			require.NoError(t, err)

			byWorkspace, err := s.Find(ctx, Query{WorkspaceID: "ws-1"})
			require.NoError(t, err)
			assert.Len(t, byWorkspace, 2)

			byTier, err := s.Find(ctx, Query{WorkspaceID: "ws-1", Tier: contexts.TierHybrid})
			require.NoError(t, err)
			require.Len(t, byTier, 1)
			assert.Equal(t, "b", byTier[0].Content)

			byType, err := s.Find(ctx, Query{WorkspaceID: "ws-1", Type: contexts.TypeFile})
			require.NoError(t, err)
			require.Len(t, byType, 1)
			assert.Equal(t, "a", byType[0].Content)

			count, err := s.Count(ctx, "ws-1")
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			ids, err := s.ListIDs(ctx, "ws-2")
			require.NoError(t, err)
			assert.Len(t, ids, 1)
		})
	}
}

func TestStoreFindPagination(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				_, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierWorkspace, contexts.TypeFile, "x"))
				require.NoError(t, err)
			}

			page1, err := s.Find(ctx, Query{WorkspaceID: "ws-1", Limit: 2})
			require.NoError(t, err)
			require.Len(t, page1, 2)

			page2, err := s.Find(ctx, Query{WorkspaceID: "ws-1", Limit: 2, Offset: 2})
			require.NoError(t, err)
			require.Len(t, page2, 2)
			assert.NotEqual(t, page1[0].ID, page2[0].ID)

			page3, err := s.Find(ctx, Query{WorkspaceID: "ws-1", Limit: 2, Offset: 4})
			require.NoError(t, err)
			assert.Len(t, page3, 1)
		})
	}
}

func TestStoreVersions(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			created, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierWorkspace, contexts.TypeFile, "v1"))
			require.NoError(t, err)

			latest, err := s.LatestVersion(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, latest)

			for i := 1; i <= 4; i++ {
				require.NoError(t, s.PutVersion(ctx, &contexts.ContextVersion{
					ContextID: created.ID,
					Version:   i,
					Content:   "v",
					Metadata:  created.Metadata,
					CreatedAt: time.Now(),
				}))
			}

			latest, err = s.LatestVersion(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, 4, latest)

			versions, err := s.GetVersions(ctx, created.ID, 2)
			require.NoError(t, err)
			require.Len(t, versions, 2)
			assert.Equal(t, 4, versions[0].Version) // newest first
			assert.Equal(t, 3, versions[1].Version)

			require.NoError(t, s.PruneVersions(ctx, created.ID, 2))
			versions, err = s.GetVersions(ctx, created.ID, 0)
			require.NoError(t, err)
			require.Len(t, versions, 2)
			assert.Equal(t, 4, versions[0].Version)
		})
	}
}

func TestStoreTouchUsage(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			created, err := s.Insert(ctx, newTestContext("ws-1", contexts.TierWorkspace, contexts.TypeFile, "hello"))
			require.NoError(t, err)

			accessed := time.Now().Add(time.Hour).Truncate(time.Microsecond)
			require.NoError(t, s.TouchUsage(ctx, created.ID, accessed))
			require.NoError(t, s.TouchUsage(ctx, created.ID, accessed))

			got, err := s.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Metadata.UsageCount)
			assert.Equal(t, accessed.UnixNano(), got.LastAccessed.UnixNano())
			// Usage tracking never touches updated_at.
			assert.Equal(t, created.UpdatedAt.UnixNano(), got.UpdatedAt.UnixNano())

			err = s.TouchUsage(ctx, "missing", accessed)
			assert.ErrorIs(t, err, contexts.ErrNotFound)
		})
	}
}
