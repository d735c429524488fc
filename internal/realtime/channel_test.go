package realtime_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/realtime"
	"github.com/tillsync/tillsync/internal/transport"
)

func encodeOrder(t *testing.T, order *models.Order) []byte {
	t.Helper()
	body, err := models.EncodeRecord(order)
	require.NoError(t, err)
	return body
}

func orderEvent(t *testing.T, kind models.ChangeKind, device string, order *models.Order) models.ChangeEvent {
	t.Helper()
	event := models.ChangeEvent{
		Event:      kind,
		Collection: models.EntityOrders,
		EntityID:   order.ID,
		DeviceID:   device,
		At:         time.Now().UTC(),
	}
	if kind != models.ChangeDelete {
		event.Record = encodeOrder(t, order)
	}
	return event
}

func waitEvent(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for merged event")
		return models.ChangeEvent{}
	}
}

func TestChannelMergesRemoteChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	stream := transport.NewMockStream()
	channel := realtime.NewChannel("device-a", stream, logger)

	view := realtime.NewLiveView(models.EntityOrders, nil)
	merged, err := channel.Subscribe(ctx, models.EntityOrders, view)
	require.NoError(t, err)

	order := &models.Order{ID: models.PermanentID(1), Status: models.OrderOpen, TotalCents: 500}
	stream.Publish(orderEvent(t, models.ChangeInsert, "device-b", order))
	waitEvent(t, merged)
	require.Equal(t, 1, view.Len())

	order.Status = models.OrderPaid
	stream.Publish(orderEvent(t, models.ChangeUpdate, "device-b", order))
	waitEvent(t, merged)

	snapshot := view.Snapshot()
	require.Len(t, snapshot, 1)
	got := snapshot[0].(*models.Order)
	assert.Equal(t, models.OrderPaid, got.Status)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	stream.Publish(orderEvent(t, models.ChangeDelete, "device-b", order))
	waitEvent(t, merged)
	assert.Equal(t, 0, view.Len())
}

func TestChannelDiscardsOwnEchoes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	stream := transport.NewMockStream()
	channel := realtime.NewChannel("device-a", stream, logger)

	view := realtime.NewLiveView(models.EntityOrders, nil)
	merged, err := channel.Subscribe(ctx, models.EntityOrders, view)
	require.NoError(t, err)

	own := &models.Order{ID: models.PermanentID(1), Status: models.OrderOpen}
	stream.Publish(orderEvent(t, models.ChangeInsert, "device-a", own))

	remote := &models.Order{ID: models.PermanentID(2), Status: models.OrderOpen}
	stream.Publish(orderEvent(t, models.ChangeInsert, "device-b", remote))

	// Only the remote event comes through; the echo left no trace.
	event := waitEvent(t, merged)
	assert.Equal(t, models.PermanentID(2), event.EntityID)
	require.Equal(t, 1, view.Len())
	assert.Equal(t, models.PermanentID(2), view.Snapshot()[0].RecordID())
}

func TestChannelClosesWithStream(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	stream := transport.NewMockStream()
	channel := realtime.NewChannel("device-a", stream, logger)

	merged, err := channel.Subscribe(ctx, models.EntityOrders, realtime.NewLiveView(models.EntityOrders, nil))
	require.NoError(t, err)

	require.NoError(t, stream.Close())

	select {
	case _, ok := <-merged:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("merged channel did not close")
	}
}

func TestLiveViewOrderFilterLimit(t *testing.T) {
	byTotalDesc := realtime.WithOrder(func(a, b models.Record) bool {
		return a.(*models.Order).TotalCents > b.(*models.Order).TotalCents
	})
	openOnly := realtime.WithFilter(func(rec models.Record) bool {
		return rec.(*models.Order).Status == models.OrderOpen
	})

	seed := []models.Record{
		&models.Order{ID: models.PermanentID(1), Status: models.OrderOpen, TotalCents: 300},
		&models.Order{ID: models.PermanentID(2), Status: models.OrderPaid, TotalCents: 900},
		&models.Order{ID: models.PermanentID(3), Status: models.OrderOpen, TotalCents: 700},
	}
	view := realtime.NewLiveView(models.EntityOrders, seed, byTotalDesc, openOnly, realtime.WithLimit(2))

	// The paid order is filtered out at seed time.
	snapshot := view.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, models.PermanentID(3), snapshot[0].RecordID())
	assert.Equal(t, models.PermanentID(1), snapshot[1].RecordID())

	// A bigger open order pushes the smallest past the limit.
	big := &models.Order{ID: models.PermanentID(4), Status: models.OrderOpen, TotalCents: 800}
	require.NoError(t, view.Apply(models.ChangeEvent{
		Event:      models.ChangeInsert,
		Collection: models.EntityOrders,
		EntityID:   big.ID,
		Record:     encodeOrder(t, big),
		DeviceID:   "device-b",
	}))

	snapshot = view.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, models.PermanentID(4), snapshot[0].RecordID())
	assert.Equal(t, models.PermanentID(3), snapshot[1].RecordID())

	// An update that no longer matches the filter removes the record.
	cancelled := &models.Order{ID: models.PermanentID(4), Status: models.OrderCancelled, TotalCents: 800}
	require.NoError(t, view.Apply(models.ChangeEvent{
		Event:      models.ChangeUpdate,
		Collection: models.EntityOrders,
		EntityID:   cancelled.ID,
		Record:     encodeOrder(t, cancelled),
		DeviceID:   "device-b",
	}))

	snapshot = view.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.PermanentID(3), snapshot[0].RecordID())
}

func TestLiveViewRejectsMalformedRecord(t *testing.T) {
	view := realtime.NewLiveView(models.EntityOrders, nil)
	err := view.Apply(models.ChangeEvent{
		Event:      models.ChangeInsert,
		Collection: models.EntityOrders,
		EntityID:   models.PermanentID(1),
		Record:     []byte(`{"status":`),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, view.Len())
}
