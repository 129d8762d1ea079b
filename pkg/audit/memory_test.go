package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendTestRecord(t *testing.T, store Store, scope, action string) *Record {
	t.Helper()
	rec := &Record{
		ID:        fmt.Sprintf("%s-%s-%d", scope, action, time.Now().UnixNano()),
		OrgID:     scope,
		Action:    action,
		Target:    "webhook_endpoint",
		Severity:  SeverityInfo,
		Category:  CategoryGeneral,
		Status:    StatusSuccess,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.Append(context.Background(), rec))
	return rec
}

func TestMemoryStore_Append_BuildsChain(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := appendTestRecord(t, store, "org-1", "webhook.registered")
	second := appendTestRecord(t, store, "org-1", "webhook.deleted")

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, GenesisHash, first.PreviousHash)
	assert.Empty(t, first.PreviousRecordID)

	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.Equal(t, first.ID, second.PreviousRecordID)

	records, err := store.List(ctx, "org-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
}

func TestMemoryStore_Append_ScopesAreIndependentChains(t *testing.T) {
	store := NewMemoryStore()

	a := appendTestRecord(t, store, "org-a", "webhook.registered")
	b := appendTestRecord(t, store, "org-b", "webhook.registered")

	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(1), b.Seq)
	assert.Equal(t, GenesisHash, a.PreviousHash)
	assert.Equal(t, GenesisHash, b.PreviousHash)
	assert.NotEqual(t, a.Hash, b.Hash, "different scopes produce different records")
}

func TestMemoryStore_List_Pagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		appendTestRecord(t, store, "org-1", fmt.Sprintf("action-%d", i))
	}

	page, err := store.List(ctx, "org-1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Seq)
	assert.Equal(t, int64(3), page[1].Seq)

	empty, err := store.List(ctx, "org-1", 10, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// A negative offset behaves like 0 instead of slicing out of range
	all, err := store.List(ctx, "org-1", 0, -1)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMemoryStore_Search(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	appendTestRecord(t, store, "org-1", "webhook.registered")
	appendTestRecord(t, store, "org-1", "webhook.deleted")
	appendTestRecord(t, store, "org-2", "webhook.registered")

	t.Run("by action", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{Action: "webhook.registered"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by scope and action", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{OrgID: "org-1", Action: "webhook.deleted"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "org-1", got[0].OrgID)
	})

	t.Run("by time window", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		got, err := store.Search(ctx, Filter{Start: &future})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryStore_Scopes(t *testing.T) {
	store := NewMemoryStore()

	appendTestRecord(t, store, "org-b", "x")
	appendTestRecord(t, store, "org-a", "x")

	scopes, err := store.Scopes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a", "org-b"}, scopes)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := appendTestRecord(t, store, "org-1", "old-action")
	appendTestRecord(t, store, "org-1", "new-action")

	// Backdate the first record past the cutoff
	store.mu.Lock()
	store.chains["org-1"][0].Timestamp = time.Now().AddDate(0, 0, -100)
	store.mu.Unlock()

	removed, err := store.Cleanup(ctx, time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	records, err := store.List(ctx, "org-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEqual(t, old.ID, records[0].ID)
}
