package outbox_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/outbox"
	"github.com/tillsync/tillsync/internal/store"
)

func newQueue(t *testing.T) (*outbox.Queue, *store.MemStore) {
	t.Helper()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	st := store.NewMemStore()
	return outbox.New(st, logger), st
}

func TestQueueOrdering(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })

	first, err := q.Enqueue(ctx, models.EntityOrders, models.ActionCreate,
		models.NewTemporaryID(), json.RawMessage(`{"status":"open"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 0, first.RetryCount)

	// Same clock tick: insertion order must still win.
	second, err := q.Enqueue(ctx, models.EntityOrders, models.ActionUpdate,
		first.EntityID, json.RawMessage(`{"status":"paid"}`))
	require.NoError(t, err)

	now = now.Add(-time.Hour)
	third, err := q.Enqueue(ctx, models.EntityCustomers, models.ActionDelete,
		models.PermanentID(3), nil)
	require.NoError(t, err)

	items, err := q.DequeueOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, third.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
	assert.Equal(t, second.ID, items[2].ID)

	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQueueRecordError(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	attempt := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return attempt })

	item, err := q.Enqueue(ctx, models.EntityProducts, models.ActionCreate,
		models.NewTemporaryID(), json.RawMessage(`{"name":"Latte"}`))
	require.NoError(t, err)

	require.NoError(t, q.RecordError(ctx, item.ID, "server unavailable"))
	require.NoError(t, q.RecordError(ctx, item.ID, "still unavailable"))

	items, err := q.DequeueOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].RetryCount)
	assert.Equal(t, "still unavailable", items[0].LastError)
	assert.Equal(t, attempt, items[0].LastAttempt)

	// Failed items stay queued until explicitly removed.
	require.NoError(t, q.Remove(ctx, item.ID))
	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueueEnqueueFailure(t *testing.T) {
	q, st := newQueue(t)
	st.FailWrites = assert.AnError

	_, err := q.Enqueue(context.Background(), models.EntityOrders, models.ActionCreate,
		models.NewTemporaryID(), nil)
	assert.ErrorIs(t, err, assert.AnError)
}
