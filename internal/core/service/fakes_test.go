package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

// memEventLog is an in-memory event log. setMeta rebuilds an event with new
// bookkeeping since E is an interface.
type memEventLog[E domain.Event] struct {
	mu       sync.Mutex
	events   []E
	meta     map[string]domain.EventMeta
	setMeta  func(E, domain.EventMeta) E
	now      func() time.Time
	fetchErr error
	saveErr  error
	markErr  error
	// reversed returns fetched events newest first.
	reversed bool
}

func newMemStorageLog() *memEventLog[domain.StorageEvent] {
	return &memEventLog[domain.StorageEvent]{
		meta:    make(map[string]domain.EventMeta),
		setMeta: withStorageMeta,
		now:     time.Now,
	}
}

func newMemCatalogLog() *memEventLog[domain.CatalogEvent] {
	return &memEventLog[domain.CatalogEvent]{
		meta:    make(map[string]domain.EventMeta),
		setMeta: withCatalogMeta,
		now:     time.Now,
	}
}

func withStorageMeta(e domain.StorageEvent, m domain.EventMeta) domain.StorageEvent {
	switch v := e.(type) {
	case domain.ItemCreated:
		v.Meta = m
		return v
	case domain.OrderCreated:
		v.Meta = m
		return v
	case domain.OrderUpdated:
		v.Meta = m
		return v
	case domain.OrderDeleted:
		v.Meta = m
		return v
	}
	panic(fmt.Sprintf("unexpected storage event %T", e))
}

func withCatalogMeta(e domain.CatalogEvent, m domain.EventMeta) domain.CatalogEvent {
	switch v := e.(type) {
	case domain.ItemChanged:
		v.Meta = m
		return v
	case domain.OrderChanged:
		v.Meta = m
		return v
	}
	panic(fmt.Sprintf("unexpected catalog event %T", e))
}

func (l *memEventLog[E]) Save(_ context.Context, event E) (E, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveErr != nil {
		var zero E
		return zero, l.saveErr
	}
	l.events = append(l.events, event)
	l.meta[event.Metadata().ID] = event.Metadata()
	return event, nil
}

func (l *memEventLog[E]) GetUnprocessedOrderedByCreationTime(_ context.Context) ([]E, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fetchErr != nil {
		return nil, l.fetchErr
	}

	var out []E
	for _, e := range l.events {
		m := l.meta[e.Metadata().ID]
		if !m.IsProcessed() {
			out = append(out, l.setMeta(e, m))
		}
	}
	slices.SortStableFunc(out, func(a, b E) int {
		return a.Metadata().CreatedAt.Compare(b.Metadata().CreatedAt)
	})
	if l.reversed {
		slices.Reverse(out)
	}
	return out, nil
}

func (l *memEventLog[E]) MarkProcessed(_ context.Context, event E) (E, error) {
	l.mu.Lock()
	markErr := l.markErr
	l.mu.Unlock()
	if markErr != nil {
		var zero E
		return zero, markErr
	}
	return l.update(event, func(m *domain.EventMeta) {
		if m.ProcessedAt == nil {
			at := l.now().UTC()
			m.ProcessedAt = &at
		}
	})
}

func (l *memEventLog[E]) RecordFailure(_ context.Context, event E, reason string) (E, error) {
	return l.update(event, func(m *domain.EventMeta) {
		m.Attempts++
		m.LastError = reason
	})
}

func (l *memEventLog[E]) MarkDeadLettered(_ context.Context, event E, reason string) (E, error) {
	return l.update(event, func(m *domain.EventMeta) {
		at := l.now().UTC()
		m.ProcessedAt = &at
		m.LastError = reason
	})
}

func (l *memEventLog[E]) update(event E, fn func(*domain.EventMeta)) (E, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.meta[event.Metadata().ID]
	if !ok {
		var zero E
		return zero, fmt.Errorf("%w: event %s: %w", domain.ErrRepository, event.Metadata().ID, domain.ErrNotFound)
	}
	fn(&m)
	l.meta[event.Metadata().ID] = m
	return l.setMeta(event, m), nil
}

func (l *memEventLog[E]) metaOf(id string) domain.EventMeta {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta[id]
}

func (l *memEventLog[E]) all() []E {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *memEventLog[E]) unprocessed() int {
	events, _ := l.GetUnprocessedOrderedByCreationTime(context.Background())
	return len(events)
}

// memStore keeps items and orders and runs transactions without isolation.
type memStore struct {
	mu     sync.Mutex
	items  map[domain.ItemKey]domain.Item
	orders map[domain.OrderKey]domain.Order
}

func newMemStore() *memStore {
	return &memStore{
		items:  make(map[domain.ItemKey]domain.Item),
		orders: make(map[domain.OrderKey]domain.Order),
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *memStore) GetItem(_ context.Context, key domain.ItemKey) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *memStore) GetItemsByIDs(_ context.Context, hostName string, hostIDs []string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Item
	for _, id := range hostIDs {
		if item, ok := s.items[domain.ItemKey{HostName: hostName, HostID: id}]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) CreateItem(_ context.Context, item domain.Item) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.Key()]; ok {
		return domain.Item{}, fmt.Errorf("%w: item %s", domain.ErrDuplicateResource, item.Key())
	}
	s.items[item.Key()] = item
	return item, nil
}

func (s *memStore) UpdateItem(_ context.Context, item domain.Item) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.Key()]
	if !ok || current.Version != item.Version {
		return domain.Item{}, fmt.Errorf("%w: %w: item %s version", domain.ErrRepository, domain.ErrConflict, item.Key())
	}
	item.Version++
	s.items[item.Key()] = item
	return item, nil
}

func (s *memStore) GetOrder(_ context.Context, key domain.OrderKey) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[key]
	if !ok {
		return nil, nil
	}
	order.Lines = slices.Clone(order.Lines)
	return &order, nil
}

func (s *memStore) CreateOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.Key()]; ok {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrDuplicateResource, order.Key())
	}
	s.orders[order.Key()] = order
	return order, nil
}

func (s *memStore) UpdateOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[order.Key()]
	if !ok || current.Version != order.Version {
		return domain.Order{}, fmt.Errorf("%w: %w: order %s version", domain.ErrRepository, domain.ErrConflict, order.Key())
	}
	order.Version++
	s.orders[order.Key()] = order
	return order, nil
}

func (s *memStore) DeleteOrder(_ context.Context, key domain.OrderKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, key)
	return nil
}

func (s *memStore) putItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Key()] = item
}

type facadeCall struct {
	Op    string
	Item  domain.Item
	Order domain.Order
	Key   domain.OrderKey
}

// fakeFacade records calls. errs holds one queued error per call of an op;
// an empty queue means success.
type fakeFacade struct {
	mu         sync.Mutex
	name       string
	categories []domain.ItemCategory
	locations  []string
	calls      []facadeCall
	errs       map[string][]error
	block      bool
}

func newFakeFacade(name string, locations ...string) *fakeFacade {
	return &fakeFacade{name: name, locations: locations, errs: make(map[string][]error)}
}

var _ port.StorageFacade = (*fakeFacade)(nil)

func (f *fakeFacade) Name() string { return f.name }

func (f *fakeFacade) CanHandleItem(item domain.Item) bool {
	return len(f.categories) == 0 || slices.Contains(f.categories, item.ItemCategory)
}

func (f *fakeFacade) CanHandleLocation(location string) bool {
	return slices.Contains(f.locations, location)
}

func (f *fakeFacade) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

func (f *fakeFacade) record(ctx context.Context, call facadeCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	var err error
	if queue := f.errs[call.Op]; len(queue) > 0 {
		err, f.errs[call.Op] = queue[0], queue[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeFacade) CreateItem(ctx context.Context, item domain.Item) error {
	return f.record(ctx, facadeCall{Op: "CreateItem", Item: item})
}

func (f *fakeFacade) CreateOrder(ctx context.Context, order domain.Order) error {
	return f.record(ctx, facadeCall{Op: "CreateOrder", Order: order})
}

func (f *fakeFacade) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := f.record(ctx, facadeCall{Op: "UpdateOrder", Order: order}); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (f *fakeFacade) DeleteOrder(ctx context.Context, key domain.OrderKey) error {
	return f.record(ctx, facadeCall{Op: "DeleteOrder", Key: key})
}

func (f *fakeFacade) callsOf(op string) []facadeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []facadeCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type notification struct {
	Kind  string
	Key   string
	Items int
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

var _ port.Notifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) add(kind, key string, items int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{Kind: kind, Key: key, Items: items})
	return n.err
}

func (n *fakeNotifier) OrderCreated(_ context.Context, key string, _ domain.Order, items []domain.Item) error {
	return n.add("OrderCreated", key, len(items))
}

func (n *fakeNotifier) ItemChanged(_ context.Context, key string, _ domain.Item) error {
	return n.add("ItemChanged", key, 0)
}

func (n *fakeNotifier) OrderChanged(_ context.Context, key string, _ domain.Order) error {
	return n.add("OrderChanged", key, 0)
}

func (n *fakeNotifier) notifications() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

type fakeMetrics struct {
	mu      sync.Mutex
	cycles  int
	events  map[string]int
	backlog int
}

func (m *fakeMetrics) ObserveCycle(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *fakeMetrics) AddEvents(_, outcome string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = make(map[string]int)
	}
	m.events[outcome] += count
}

func (m *fakeMetrics) SetBacklog(_ string, backlog int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backlog = backlog
}

func newStores(store *memStore, storageLog *memEventLog[domain.StorageEvent], catalogLog *memEventLog[domain.CatalogEvent]) Stores {
	return Stores{
		Tx:            store,
		Items:         store,
		Orders:        store,
		StorageEvents: storageLog,
		CatalogEvents: catalogLog,
	}
}

func testItem(hostID, location string, quantity int) domain.Item {
	return domain.Item{
		HostName:             "AXIELL",
		HostID:               hostID,
		ItemCategory:         domain.ItemCategoryPaper,
		PreferredEnvironment: domain.EnvironmentNone,
		Packaging:            domain.PackagingNone,
		Location:             location,
		Quantity:             quantity,
	}
}

func testOrder(id string, hostIDs ...string) domain.Order {
	lines := make([]domain.OrderLine, 0, len(hostIDs))
	for _, hostID := range hostIDs {
		lines = append(lines, domain.OrderLine{HostID: hostID, Status: domain.LineStatusNotStarted})
	}
	return domain.Order{
		HostName:      "AXIELL",
		HostOrderID:   id,
		Status:        domain.OrderStatusNotStarted,
		Lines:         lines,
		OrderType:     domain.OrderTypeLoan,
		ContactPerson: "Kari Nordmann",
		Receiver:      domain.Receiver{Name: "Kari Nordmann"},
	}
}
