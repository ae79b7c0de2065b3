package facade

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var (
	_ port.StorageFacade = (*Tracking)(nil)
	_ port.StockMirror   = (*Tracking)(nil)
)

// StockLedger is the stock bookkeeping the tracking facade keeps in Redis.
type StockLedger interface {
	TrackItem(ctx context.Context, key domain.ItemKey, quantity int) (bool, error)
	ReserveStock(ctx context.Context, key domain.ItemKey, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, key domain.ItemKey, quantity int) error
	SyncStock(ctx context.Context, key domain.ItemKey, quantity int) (int, error)
	SaveReservation(ctx context.Context, key domain.OrderKey, hostIDs []string, create bool) (bool, error)
	Reservation(ctx context.Context, key domain.OrderKey) ([]string, bool, error)
	DeleteReservation(ctx context.Context, key domain.OrderKey) error
}

// Tracking is a storage system without a warehouse behind it. It mirrors the
// stock of every item and reserves copies for orders at its own locations,
// which makes it usable for shelves managed by hand.
type Tracking struct {
	name      string
	ledger    StockLedger
	locations []string
	logger    *zap.Logger
}

func NewTracking(name string, ledger StockLedger, locations []string, logger *zap.Logger) *Tracking {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracking{
		name:      name,
		ledger:    ledger,
		locations: locations,
		logger:    logger.With(zap.String("component", "tracking"), zap.String("facade", name)),
	}
}

func (t *Tracking) Name() string {
	return t.name
}

func (t *Tracking) CanHandleItem(domain.Item) bool {
	return true
}

func (t *Tracking) CanHandleLocation(location string) bool {
	return slices.Contains(t.locations, location)
}

func (t *Tracking) CreateItem(ctx context.Context, item domain.Item) error {
	created, err := t.ledger.TrackItem(ctx, item.Key(), item.Quantity)
	if err != nil {
		return fmt.Errorf("%w: track item %s: %v", domain.ErrStorageSystem, item.Key(), err)
	}
	if !created {
		return fmt.Errorf("%w: item %s is already tracked", domain.ErrDuplicateResource, item.Key())
	}
	return nil
}

func (t *Tracking) CreateOrder(ctx context.Context, order domain.Order) error {
	if _, found, err := t.ledger.Reservation(ctx, order.Key()); err != nil {
		return fmt.Errorf("%w: load reservation %s: %v", domain.ErrStorageSystem, order.Key(), err)
	} else if found {
		return fmt.Errorf("%w: order %s is already reserved", domain.ErrDuplicateResource, order.Key())
	}

	reserved, err := t.reserve(ctx, order.HostName, order.HostOrderID, order.ItemIDs())
	if err != nil {
		return err
	}

	created, err := t.ledger.SaveReservation(ctx, order.Key(), reserved, true)
	if err != nil {
		t.release(ctx, order.HostName, reserved)
		return fmt.Errorf("%w: save reservation %s: %v", domain.ErrStorageSystem, order.Key(), err)
	}
	if !created {
		t.release(ctx, order.HostName, reserved)
		return fmt.Errorf("%w: order %s is already reserved", domain.ErrDuplicateResource, order.Key())
	}
	return nil
}

// UpdateOrder keeps the copies of lines that stay, reserves the added lines
// and only then gives back the copies of removed lines. A failure before the
// reservation is saved leaves the previous reservation untouched.
func (t *Tracking) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	previous, _, err := t.ledger.Reservation(ctx, order.Key())
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: load reservation %s: %v", domain.ErrStorageSystem, order.Key(), err)
	}

	kept, added, removed := diffLines(previous, order.ItemIDs())
	reserved, err := t.reserve(ctx, order.HostName, order.HostOrderID, added)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := t.ledger.SaveReservation(ctx, order.Key(), append(kept, reserved...), false); err != nil {
		t.release(ctx, order.HostName, reserved)
		return domain.Order{}, fmt.Errorf("%w: save reservation %s: %v", domain.ErrStorageSystem, order.Key(), err)
	}
	t.release(ctx, order.HostName, removed)
	return order, nil
}

// SyncStock sets the free count of a tracked item from its catalogue quantity.
func (t *Tracking) SyncStock(ctx context.Context, item domain.Item) error {
	free, err := t.ledger.SyncStock(ctx, item.Key(), item.Quantity)
	if err != nil {
		return fmt.Errorf("%w: sync stock %s: %v", domain.ErrStorageSystem, item.Key(), err)
	}
	t.logger.Debug("stock synchronized", zap.String("item", item.Key().String()), zap.Int("free", free))
	return nil
}

func (t *Tracking) DeleteOrder(ctx context.Context, key domain.OrderKey) error {
	reserved, found, err := t.ledger.Reservation(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: load reservation %s: %v", domain.ErrStorageSystem, key, err)
	}
	if !found {
		return nil
	}

	t.release(ctx, key.HostName, reserved)
	if err := t.ledger.DeleteReservation(ctx, key); err != nil {
		return fmt.Errorf("%w: delete reservation %s: %v", domain.ErrStorageSystem, key, err)
	}
	return nil
}

// reserve takes one copy per host id. Lines without stock are left
// unreserved. On error nothing stays reserved.
func (t *Tracking) reserve(ctx context.Context, hostName, orderID string, hostIDs []string) ([]string, error) {
	reserved := make([]string, 0, len(hostIDs))
	for _, hostID := range hostIDs {
		key := domain.ItemKey{HostName: hostName, HostID: hostID}
		ok, err := t.ledger.ReserveStock(ctx, key, 1)
		if err != nil {
			t.release(ctx, hostName, reserved)
			return nil, fmt.Errorf("%w: reserve %s: %v", domain.ErrStorageSystem, key, err)
		}
		if !ok {
			t.logger.Warn("no stock to reserve for order line",
				zap.String("order_id", orderID),
				zap.String("host_id", hostID),
			)
			continue
		}
		reserved = append(reserved, hostID)
	}
	return reserved, nil
}

func (t *Tracking) release(ctx context.Context, hostName string, hostIDs []string) {
	for _, hostID := range hostIDs {
		key := domain.ItemKey{HostName: hostName, HostID: hostID}
		if err := t.ledger.ReleaseStock(ctx, key, 1); err != nil {
			t.logger.Error("failed to release reserved stock", zap.String("host_id", hostID), zap.Error(err))
		}
	}
}

// diffLines splits the wanted host ids into those already holding a copy and
// those to reserve, and returns the held ids no longer wanted. Repeated ids
// count once per occurrence.
func diffLines(held, wanted []string) (kept, added, removed []string) {
	holding := make(map[string]int, len(held))
	for _, id := range held {
		holding[id]++
	}
	for _, id := range wanted {
		if holding[id] > 0 {
			holding[id]--
			kept = append(kept, id)
			continue
		}
		added = append(added, id)
	}
	for _, id := range held {
		if holding[id] > 0 {
			holding[id]--
			removed = append(removed, id)
		}
	}
	return kept, added, removed
}
