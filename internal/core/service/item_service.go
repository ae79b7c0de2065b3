package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

// Stores bundles the persistence ports the command services write through.
// Every command mutates one entity and appends exactly one event inside a
// single transaction.
type Stores struct {
	Tx            port.Transactor
	Items         port.ItemRepository
	Orders        port.OrderRepository
	StorageEvents port.StorageEventLog
	CatalogEvents port.CatalogEventLog
}

type ItemService struct {
	stores Stores
	now    func() time.Time
	logger *zap.Logger
}

func NewItemService(stores Stores, logger *zap.Logger) *ItemService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemService{
		stores: stores,
		now:    time.Now,
		logger: logger.With(zap.String("component", "item_service")),
	}
}

// CreateItem registers a new item and queues it for the storage systems.
func (s *ItemService) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	item, err := domain.NewItem(item)
	if err != nil {
		return domain.Item{}, err
	}

	var created domain.Item
	err = s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.stores.Items.GetItem(ctx, item.Key())
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: item %s already exists", domain.ErrDuplicateResource, item.Key())
		}

		now := s.now().UTC()
		item.CreatedAt, item.UpdatedAt = now, now
		created, err = s.stores.Items.CreateItem(ctx, item)
		if err != nil {
			return err
		}

		_, err = s.stores.StorageEvents.Save(ctx, domain.NewItemCreated(created, now))
		return err
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("create item %s: %w", item.Key(), err)
	}

	s.logger.Info("item created", zap.String("host", created.HostName), zap.String("host_id", created.HostID))
	return created, nil
}

// SynchronizeStock applies a stock count reported by a storage system.
func (s *ItemService) SynchronizeStock(ctx context.Context, key domain.ItemKey, quantity int, location *string) (domain.Item, error) {
	return s.change(ctx, key, "synchronize stock", func(item domain.Item) (domain.Item, error) {
		return item.SynchronizeQuantityAndLocation(quantity, location)
	})
}

// PickItem records that amount copies left storage.
func (s *ItemService) PickItem(ctx context.Context, key domain.ItemKey, amount int) (domain.Item, error) {
	if amount <= 0 {
		return domain.Item{}, fmt.Errorf("%w: pick amount must be positive, got %d", domain.ErrValidation, amount)
	}

	return s.change(ctx, key, "pick", func(item domain.Item) (domain.Item, error) {
		picked, shortfall := item.Pick(amount)
		if shortfall > 0 {
			s.logger.Warn("picked more copies than recorded in storage",
				zap.String("host", key.HostName),
				zap.String("host_id", key.HostID),
				zap.Int("recorded", item.Quantity),
				zap.Int("picked", amount),
			)
		}
		return picked, nil
	})
}

func (s *ItemService) GetItem(ctx context.Context, key domain.ItemKey) (domain.Item, error) {
	item, err := s.stores.Items.GetItem(ctx, key)
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item %s: %w", key, err)
	}
	if item == nil {
		return domain.Item{}, fmt.Errorf("%w: item %s", domain.ErrNotFound, key)
	}
	return *item, nil
}

// change loads an item, applies fn and stores the result with an ItemChanged event.
func (s *ItemService) change(ctx context.Context, key domain.ItemKey, action string, fn func(domain.Item) (domain.Item, error)) (domain.Item, error) {
	var updated domain.Item
	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err := s.stores.Items.GetItem(ctx, key)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("%w: item %s", domain.ErrNotFound, key)
		}

		next, err := fn(*item)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		next.UpdatedAt = now
		updated, err = s.stores.Items.UpdateItem(ctx, next)
		if err != nil {
			return err
		}

		_, err = s.stores.CatalogEvents.Save(ctx, domain.NewItemChanged(updated, now))
		return err
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("%s %s: %w", action, key, err)
	}
	return updated, nil
}
