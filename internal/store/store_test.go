package store_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/store"
)

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tillsync.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	testStoreOperations(t, newSQLiteStore(t))
}

func TestMemStore(t *testing.T) {
	testStoreOperations(t, store.NewMemStore())
}

func testStoreOperations(t *testing.T, s store.Store) {
	ctx := context.Background()

	productRow := func(id models.ID, name, category string, price int64) *store.Row {
		t.Helper()
		row, err := store.RowFromRecord(&models.Product{
			ID:         id,
			Name:       name,
			Category:   category,
			PriceCents: price,
			Active:     true,
			SyncMeta: models.SyncMeta{
				SyncStatus:   models.SyncSynced,
				LastModified: time.Now().UTC(),
			},
		})
		require.NoError(t, err)
		return row
	}

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, models.EntityProducts, models.PermanentID(99))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		row := productRow(models.PermanentID(1), "Espresso", "drinks", 250)
		require.NoError(t, s.Put(ctx, models.EntityProducts, row))

		got, err := s.Get(ctx, models.EntityProducts, models.PermanentID(1))
		require.NoError(t, err)
		assert.Equal(t, models.PermanentID(1), got.ID)
		assert.Equal(t, models.SyncSynced, got.SyncStatus)

		rec, err := got.Record(models.EntityProducts)
		require.NoError(t, err)
		assert.Equal(t, "Espresso", rec.(*models.Product).Name)
	})

	t.Run("put overwrites", func(t *testing.T) {
		row := productRow(models.PermanentID(1), "Double Espresso", "drinks", 300)
		require.NoError(t, s.Put(ctx, models.EntityProducts, row))

		got, err := s.Get(ctx, models.EntityProducts, models.PermanentID(1))
		require.NoError(t, err)
		rec, err := got.Record(models.EntityProducts)
		require.NoError(t, err)
		assert.Equal(t, int64(300), rec.(*models.Product).PriceCents)
	})

	t.Run("get all by index", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, models.EntityProducts, productRow(models.PermanentID(2), "Croissant", "bakery", 180)))
		require.NoError(t, s.Put(ctx, models.EntityProducts, productRow(models.PermanentID(3), "Latte", "drinks", 320)))

		drinks, err := s.GetAllByIndex(ctx, models.EntityProducts, "category", "drinks")
		require.NoError(t, err)
		assert.Len(t, drinks, 2)

		bakery, err := s.GetAllByIndex(ctx, models.EntityProducts, "category", "bakery")
		require.NoError(t, err)
		assert.Len(t, bakery, 1)
	})

	t.Run("unknown index rejected", func(t *testing.T) {
		_, err := s.GetAllByIndex(ctx, models.EntityProducts, "price; DROP TABLE products", "x")
		assert.Error(t, err)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, models.EntityProducts, models.PermanentID(2)))
		require.NoError(t, s.Delete(ctx, models.EntityProducts, models.PermanentID(2)))

		_, err := s.Get(ctx, models.EntityProducts, models.PermanentID(2))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("replace all", func(t *testing.T) {
		rows := []*store.Row{
			productRow(models.PermanentID(10), "Tea", "drinks", 200),
		}
		require.NoError(t, s.ReplaceAll(ctx, models.EntityProducts, rows))

		all, err := s.GetAll(ctx, models.EntityProducts)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, models.PermanentID(10), all[0].ID)
	})

	t.Run("settings", func(t *testing.T) {
		_, err := s.GetSetting(ctx, "lastSyncToServer")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.PutSetting(ctx, "lastSyncToServer", "2026-01-02T15:04:05Z"))
		require.NoError(t, s.PutSetting(ctx, "lastSyncToServer", "2026-01-03T15:04:05Z"))

		v, err := s.GetSetting(ctx, "lastSyncToServer")
		require.NoError(t, err)
		assert.Equal(t, "2026-01-03T15:04:05Z", v)
	})

	t.Run("outbox ordering and errors", func(t *testing.T) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		items := []*models.OutboxItem{
			{ID: "item-b", EntityType: models.EntityOrders, Action: models.ActionUpdate,
				EntityID: models.PermanentID(5), Timestamp: base.Add(2 * time.Second)},
			{ID: "item-a", EntityType: models.EntityOrders, Action: models.ActionCreate,
				EntityID: models.PermanentID(5), Timestamp: base},
			{ID: "item-c", EntityType: models.EntityCustomers, Action: models.ActionDelete,
				EntityID: models.PermanentID(7), Timestamp: base.Add(2 * time.Second)},
		}
		for _, item := range items {
			require.NoError(t, s.AppendOutbox(ctx, item))
		}

		ordered, err := s.ListOutbox(ctx)
		require.NoError(t, err)
		require.Len(t, ordered, 3)
		assert.Equal(t, "item-a", ordered[0].ID)
		// Same timestamp: insertion order breaks the tie.
		assert.Equal(t, "item-b", ordered[1].ID)
		assert.Equal(t, "item-c", ordered[2].ID)

		n, err := s.OutboxCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		attempt := base.Add(time.Minute)
		require.NoError(t, s.RecordOutboxError(ctx, "item-b", "connection refused", attempt))

		ordered, err = s.ListOutbox(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, ordered[1].RetryCount)
		assert.Equal(t, "connection refused", ordered[1].LastError)
		assert.Equal(t, attempt.Unix(), ordered[1].LastAttempt.Unix())

		require.NoError(t, s.RemoveOutbox(ctx, "item-a"))
		require.NoError(t, s.RemoveOutbox(ctx, "item-b"))
		require.NoError(t, s.RemoveOutbox(ctx, "item-c"))

		n, err = s.OutboxCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("record error on missing item", func(t *testing.T) {
		err := s.RecordOutboxError(ctx, "no-such-item", "boom", time.Now())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("remap sweeps records and outbox", func(t *testing.T) {
		tempCustomer := models.NewTemporaryID()
		now := time.Now().UTC()

		customerRow, err := store.RowFromRecord(&models.Customer{
			ID:   tempCustomer,
			Name: "Ana",
			SyncMeta: models.SyncMeta{
				SyncStatus: models.SyncPending, IsLocalOnly: true, LastModified: now,
			},
		})
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, models.EntityCustomers, customerRow))

		tempOrder := models.NewTemporaryID()
		orderRow, err := store.RowFromRecord(&models.Order{
			ID:         tempOrder,
			CustomerID: tempCustomer,
			Status:     models.OrderOpen,
			SyncMeta: models.SyncMeta{
				SyncStatus: models.SyncPending, IsLocalOnly: true, LastModified: now,
			},
		})
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, models.EntityOrders, orderRow))

		require.NoError(t, s.AppendOutbox(ctx, &models.OutboxItem{
			ID: "queued-order", EntityType: models.EntityOrders, Action: models.ActionCreate,
			EntityID: tempOrder, Data: orderRow.Body, Timestamp: now,
		}))

		serverID := models.PermanentID(57)
		refs, err := s.RemapID(ctx, tempCustomer, serverID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, refs, 2) // order row + queued snapshot

		// The customer row now lives under the server id.
		_, err = s.Get(ctx, models.EntityCustomers, tempCustomer)
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.Get(ctx, models.EntityCustomers, serverID)
		require.NoError(t, err)
		rec, err := got.Record(models.EntityCustomers)
		require.NoError(t, err)
		assert.Equal(t, "Ana", rec.(*models.Customer).Name)

		// The order's foreign key and its queued snapshot follow.
		gotOrder, err := s.Get(ctx, models.EntityOrders, tempOrder)
		require.NoError(t, err)
		orderRec, err := gotOrder.Record(models.EntityOrders)
		require.NoError(t, err)
		assert.Equal(t, serverID, orderRec.(*models.Order).CustomerID)

		byCustomer, err := s.GetAllByIndex(ctx, models.EntityOrders, "customer_id", "57")
		require.NoError(t, err)
		assert.Len(t, byCustomer, 1)

		queued, err := s.ListOutbox(ctx)
		require.NoError(t, err)
		require.Len(t, queued, 1)
		assert.NotContains(t, string(queued[0].Data), tempCustomer.String())
		assert.Contains(t, string(queued[0].Data), `"57"`)

		require.NoError(t, s.RemoveOutbox(ctx, "queued-order"))
	})

	t.Run("reset wipes everything", func(t *testing.T) {
		require.NoError(t, s.Reset(ctx))

		all, err := s.GetAll(ctx, models.EntityProducts)
		require.NoError(t, err)
		assert.Empty(t, all)

		n, err := s.OutboxCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = s.GetSetting(ctx, "lastSyncToServer")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
