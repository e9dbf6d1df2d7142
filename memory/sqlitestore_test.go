package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_SaveAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	now := time.Now().UTC()
	item := FlowMemoryItem{
		MemoryItem: MemoryItem{
			ID: "item-1", Content: []byte(`{"step":1}`),
			Metadata: map[string]string{"status": "updated"},
			CreatedAt: now, LastAccessedAt: now,
		},
		FlowID: "flow-1", FlowType: "demo", MemoryType: MemoryTypeState,
	}
	require.NoError(t, store.Save(ctx, item))

	got, err := store.Query(ctx, Query{FlowID: "flow-1", MemoryType: MemoryTypeState})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, item.ID, got[0].ID)
	require.Equal(t, "updated", got[0].Metadata["status"])
}

func TestSQLiteStore_SaveIsUpsertByID(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx, FlowMemoryItem{
		MemoryItem: MemoryItem{ID: "item-1", Content: []byte("v1"), CreatedAt: now, LastAccessedAt: now},
		FlowID:     "flow-1", MemoryType: MemoryTypeState,
	}))
	require.NoError(t, store.Save(ctx, FlowMemoryItem{
		MemoryItem: MemoryItem{ID: "item-1", Content: []byte("v2"), CreatedAt: now, LastAccessedAt: now},
		FlowID:     "flow-1", MemoryType: MemoryTypeState,
	}))

	got, err := store.Query(ctx, Query{FlowID: "flow-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "v2", string(got[0].Content))
}

func TestSQLiteStore_DeleteByFlowAndType(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx, FlowMemoryItem{
		MemoryItem: MemoryItem{ID: "a", CreatedAt: now, LastAccessedAt: now},
		FlowID:     "flow-1", MemoryType: MemoryTypeState,
	}))
	require.NoError(t, store.Save(ctx, FlowMemoryItem{
		MemoryItem: MemoryItem{ID: "b", CreatedAt: now, LastAccessedAt: now},
		FlowID:     "flow-1", MemoryType: MemoryTypeError,
	}))

	removed, err := store.Delete(ctx, Query{FlowID: "flow-1", MemoryType: MemoryTypeState})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	remaining, err := store.Query(ctx, Query{FlowID: "flow-1"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "b", remaining[0].ID)
}

func TestSQLiteStore_QueryLimitAndDescending(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Save(ctx, FlowMemoryItem{
			MemoryItem: MemoryItem{ID: id, CreatedAt: ts, LastAccessedAt: ts},
			FlowID:     "flow-1", MemoryType: MemoryTypeState,
		}))
	}

	got, err := store.Query(ctx, Query{FlowID: "flow-1", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].ID)
	require.Equal(t, "b", got[1].ID)
}
