package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "stockbridge.db") + "?_pragma=busy_timeout(5000)"
	store, err := Open(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// getMySQLStore runs the same store against MySQL when MYSQL_DSN points at one.
func getMySQLStore(t *testing.T) *SQLStore {
	t.Helper()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/stockbridge"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, "mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

var testTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testItem(hostID, location string, quantity int) domain.Item {
	return domain.Item{
		HostName:             "AXIELL",
		HostID:               hostID,
		Description:          "Film reel",
		ItemCategory:         domain.ItemCategoryFilm,
		PreferredEnvironment: domain.EnvironmentFreeze,
		Packaging:            domain.PackagingBox,
		Location:             location,
		Quantity:             quantity,
		CreatedAt:            testTime,
		UpdatedAt:            testTime,
	}
}

func testOrder(orderID string, hostIDs ...string) domain.Order {
	order, err := domain.NewOrder(domain.Order{
		HostName:      "AXIELL",
		HostOrderID:   orderID,
		ContactPerson: "Kari",
		Receiver:      domain.Receiver{Name: "Kari", City: "Oslo"},
		Lines:         linesOf(hostIDs...),
		CreatedAt:     testTime,
		UpdatedAt:     testTime,
	})
	if err != nil {
		panic(err)
	}
	return order
}

func linesOf(hostIDs ...string) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(hostIDs))
	for _, id := range hostIDs {
		lines = append(lines, domain.OrderLine{HostID: id})
	}
	return lines
}

func TestSQLStore_ItemLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	created, err := store.CreateItem(ctx, testItem("mlt-1", "SYNQ_WAREHOUSE", 2))
	require.NoError(t, err)
	assert.Equal(t, 0, created.Version)

	got, err := store.GetItem(ctx, created.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created, *got)

	got.Quantity = 1
	updated, err := store.UpdateItem(ctx, *got)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)

	// Stale version
	_, err = store.UpdateItem(ctx, *got)
	require.ErrorIs(t, err, ErrOptimisticLock)
	assert.ErrorIs(t, err, domain.ErrRepository)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSQLStore_GetItemNotFound(t *testing.T) {
	store := newSQLiteStore(t)

	item, err := store.GetItem(context.Background(), domain.ItemKey{HostName: "AXIELL", HostID: "missing"})
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestSQLStore_CreateItemDuplicate(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	_, err := store.CreateItem(ctx, testItem("mlt-1", "SYNQ_WAREHOUSE", 1))
	require.NoError(t, err)

	_, err = store.CreateItem(ctx, testItem("mlt-1", "SYNQ_WAREHOUSE", 1))
	assert.ErrorIs(t, err, domain.ErrDuplicateResource)
}

func TestSQLStore_GetItemsByIDs(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.CreateItem(ctx, testItem(id, "SYNQ_WAREHOUSE", 1))
		require.NoError(t, err)
	}

	items, err := store.GetItemsByIDs(ctx, "AXIELL", []string{"a", "c", "missing"})
	require.NoError(t, err)

	var ids []string
	for _, item := range items {
		ids = append(ids, item.HostID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	items, err = store.GetItemsByIDs(ctx, "OTHER_HOST", []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSQLStore_OrderLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	order := testOrder("order-1", "mlt-2", "mlt-1", "mlt-3")
	created, err := store.CreateOrder(ctx, order)
	require.NoError(t, err)

	got, err := store.GetOrder(ctx, order.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"mlt-2", "mlt-1", "mlt-3"}, got.ItemIDs())
	assert.Equal(t, order.Receiver, got.Receiver)
	assert.Equal(t, domain.OrderStatusNotStarted, got.Status)

	next, err := got.SetLineStatus("mlt-1", domain.LineStatusPicked)
	require.NoError(t, err)
	updated, err := store.UpdateOrder(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, created.Version+1, updated.Version)

	got, err = store.GetOrder(ctx, order.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, got.Status)
	assert.Equal(t, domain.LineStatusPicked, got.Lines[1].Status)

	_, err = store.UpdateOrder(ctx, next)
	assert.ErrorIs(t, err, ErrOptimisticLock)

	require.NoError(t, store.DeleteOrder(ctx, order.Key()))
	got, err = store.GetOrder(ctx, order.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLStore_CreateOrderDuplicate(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	_, err := store.CreateOrder(ctx, testOrder("order-1", "mlt-1"))
	require.NoError(t, err)

	_, err = store.CreateOrder(ctx, testOrder("order-1", "mlt-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateResource)
}

func TestSQLStore_WithinTxRollsBack(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	events := NewStorageEventLog(store)
	boom := errors.New("boom")

	item := testItem("mlt-1", "SYNQ_WAREHOUSE", 1)
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := store.CreateItem(ctx, item); err != nil {
			return err
		}
		if _, err := events.Save(ctx, domain.NewItemCreated(item, testTime)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetItem(ctx, item.Key())
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := events.GetUnprocessedOrderedByCreationTime(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEventLog_UnprocessedInCreationOrder(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	events := NewStorageEventLog(store)

	order := testOrder("order-1", "mlt-1")
	later := domain.NewOrderUpdated(order, testTime.Add(time.Second))
	first := domain.NewOrderCreated(order, testTime)
	// Same millisecond as first, saved after it.
	second := domain.NewOrderDeleted(order.Key(), testTime)

	for _, e := range []domain.StorageEvent{later, first, second} {
		_, err := events.Save(ctx, e)
		require.NoError(t, err)
	}

	pending, err := events.GetUnprocessedOrderedByCreationTime(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	assert.Equal(t, first.Meta.ID, pending[0].Metadata().ID)
	assert.Equal(t, second.Meta.ID, pending[1].Metadata().ID)
	assert.Equal(t, later.Meta.ID, pending[2].Metadata().ID)

	created, ok := pending[0].(domain.OrderCreated)
	require.True(t, ok)
	assert.Equal(t, order.ItemIDs(), created.Order.ItemIDs())
	assert.Equal(t, testTime, created.Meta.CreatedAt)
}

func TestEventLog_MarkProcessedIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	events := NewCatalogEventLog(store)

	event := domain.NewItemChanged(testItem("mlt-1", "SYNQ_WAREHOUSE", 1), testTime)
	_, err := events.Save(ctx, event)
	require.NoError(t, err)

	events.now = func() time.Time { return testTime.Add(time.Minute) }
	first, err := events.MarkProcessed(ctx, event)
	require.NoError(t, err)
	require.NotNil(t, first.Metadata().ProcessedAt)

	events.now = func() time.Time { return testTime.Add(time.Hour) }
	second, err := events.MarkProcessed(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, *first.Metadata().ProcessedAt, *second.Metadata().ProcessedAt)

	pending, err := events.GetUnprocessedOrderedByCreationTime(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEventLog_MarkProcessedMissingEvent(t *testing.T) {
	store := newSQLiteStore(t)
	events := NewCatalogEventLog(store)

	_, err := events.MarkProcessed(context.Background(), domain.NewItemChanged(testItem("mlt-1", "SYNQ_WAREHOUSE", 1), testTime))
	require.ErrorIs(t, err, domain.ErrRepository)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventLog_FailureBookkeeping(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	events := NewStorageEventLog(store)

	event := domain.NewItemCreated(testItem("mlt-1", "SYNQ_WAREHOUSE", 1), testTime)
	_, err := events.Save(ctx, event)
	require.NoError(t, err)

	failed, err := events.RecordFailure(ctx, event, "warehouse down")
	require.NoError(t, err)
	failed, err = events.RecordFailure(ctx, failed, "warehouse still down")
	require.NoError(t, err)
	assert.Equal(t, 2, failed.Metadata().Attempts)
	assert.Equal(t, "warehouse still down", failed.Metadata().LastError)
	assert.False(t, failed.Metadata().IsProcessed())

	dead, err := events.MarkDeadLettered(ctx, failed, "not supported")
	require.NoError(t, err)
	assert.True(t, dead.Metadata().IsProcessed())
	assert.Equal(t, "not supported", dead.Metadata().LastError)

	pending, err := events.GetUnprocessedOrderedByCreationTime(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEventLog_UnknownTypeIsDeadLetteredOnRead(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	events := NewStorageEventLog(store)

	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO storage_events (id, event_type, entity_key, payload, created_at, attempts, last_error)
		VALUES ('legacy-1', 'ItemArchived', 'item:AXIELL/mlt-1', '{}', ?, 0, '')`, toMillis(testTime))
	require.NoError(t, err)

	valid := domain.NewItemCreated(testItem("mlt-2", "SYNQ_WAREHOUSE", 1), testTime.Add(time.Second))
	_, err = events.Save(ctx, valid)
	require.NoError(t, err)

	pending, err := events.GetUnprocessedOrderedByCreationTime(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, valid.Meta.ID, pending[0].Metadata().ID)

	var deadLetter int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT dead_letter FROM storage_events WHERE id = 'legacy-1'`).Scan(&deadLetter))
	assert.Equal(t, 1, deadLetter)
}

func TestMySQLStore_ItemLifecycle(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()

	item := testItem("mysql-"+time.Now().Format("20060102150405.000"), "SYNQ_WAREHOUSE", 3)
	_, err := store.CreateItem(ctx, item)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.DB().ExecContext(context.Background(),
			`DELETE FROM items WHERE host_name = ? AND host_id = ?`, item.HostName, item.HostID)
	})

	_, err = store.CreateItem(ctx, item)
	require.ErrorIs(t, err, domain.ErrDuplicateResource)

	got, err := store.GetItem(ctx, item.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Quantity)

	_, err = store.UpdateItem(ctx, *got)
	require.NoError(t, err)
	_, err = store.UpdateItem(ctx, *got)
	assert.ErrorIs(t, err, ErrOptimisticLock)
}

func TestEventLog_BrokenPayloadIsDeadLetteredOnRead(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	events := NewStorageEventLog(store)

	valid := domain.NewItemCreated(testItem("mlt-1", "SYNQ_WAREHOUSE", 1), testTime)
	_, err := events.Save(ctx, valid)
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO storage_events (id, event_type, entity_key, payload, created_at, attempts, last_error)
		VALUES ('broken-1', ?, 'item:AXIELL/mlt-2', '{not json', ?, 0, '')`,
		domain.EventTypeItemCreated, toMillis(testTime.Add(time.Second)))
	require.NoError(t, err)

	pending, err := events.GetUnprocessedOrderedByCreationTime(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, valid.Meta.ID, pending[0].Metadata().ID)

	var (
		deadLetter int
		lastError  string
	)
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT dead_letter, last_error FROM storage_events WHERE id = 'broken-1'`).Scan(&deadLetter, &lastError))
	assert.Equal(t, 1, deadLetter)
	assert.Contains(t, lastError, "broken-1")

	pending, err = events.GetUnprocessedOrderedByCreationTime(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
