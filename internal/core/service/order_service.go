package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

// OrderUpdate carries the fields a host may change on an order. Nil or empty
// fields are left as they are.
type OrderUpdate struct {
	Key           domain.OrderKey
	ItemIDs       []string
	OrderType     domain.OrderType
	ContactPerson string
	ContactEmail  string
	Receiver      *domain.Receiver
	Note          *string
	CallbackURL   *string
}

type OrderService struct {
	stores Stores
	now    func() time.Time
	logger *zap.Logger
}

func NewOrderService(stores Stores, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		stores: stores,
		now:    time.Now,
		logger: logger.With(zap.String("component", "order_service")),
	}
}

// CreateOrder places a new order. Every line must refer to a registered item.
func (s *OrderService) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	order, err := domain.NewOrder(order)
	if err != nil {
		return domain.Order{}, err
	}

	var created domain.Order
	err = s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.stores.Orders.GetOrder(ctx, order.Key())
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: order %s already exists", domain.ErrDuplicateResource, order.Key())
		}
		if err := s.ensureItemsExist(ctx, order.HostName, order.ItemIDs()); err != nil {
			return err
		}

		now := s.now().UTC()
		order.CreatedAt, order.UpdatedAt = now, now
		created, err = s.stores.Orders.CreateOrder(ctx, order)
		if err != nil {
			return err
		}

		_, err = s.stores.StorageEvents.Save(ctx, domain.NewOrderCreated(created, now))
		return err
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order %s: %w", order.Key(), err)
	}

	s.logger.Info("order created",
		zap.String("host", created.HostName),
		zap.String("order_id", created.HostOrderID),
		zap.Int("lines", len(created.Lines)),
	)
	return created, nil
}

// UpdateOrder applies host changes to an order that is still open.
func (s *OrderService) UpdateOrder(ctx context.Context, update OrderUpdate) (domain.Order, error) {
	var updated domain.Order
	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.load(ctx, update.Key)
		if err != nil {
			return err
		}

		next, err := applyOrderUpdate(order, update)
		if err != nil {
			return err
		}
		if len(update.ItemIDs) > 0 {
			if err := s.ensureItemsExist(ctx, next.HostName, next.ItemIDs()); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		next.UpdatedAt = now
		updated, err = s.stores.Orders.UpdateOrder(ctx, next)
		if err != nil {
			return err
		}

		_, err = s.stores.StorageEvents.Save(ctx, domain.NewOrderUpdated(updated, now))
		return err
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order %s: %w", update.Key, err)
	}
	return updated, nil
}

// DeleteOrder cancels an order and asks every storage system to drop it.
func (s *OrderService) DeleteOrder(ctx context.Context, key domain.OrderKey) error {
	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		if _, err := order.Delete(); err != nil {
			return err
		}
		if err := s.stores.Orders.DeleteOrder(ctx, key); err != nil {
			return err
		}

		_, err = s.stores.StorageEvents.Save(ctx, domain.NewOrderDeleted(key, s.now()))
		return err
	})
	if err != nil {
		return fmt.Errorf("delete order %s: %w", key, err)
	}

	s.logger.Info("order deleted", zap.String("host", key.HostName), zap.String("order_id", key.HostOrderID))
	return nil
}

// UpdateLineStatus applies a line status reported by a storage system.
func (s *OrderService) UpdateLineStatus(ctx context.Context, key domain.OrderKey, hostID string, status domain.LineStatus) (domain.Order, error) {
	var updated domain.Order
	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.load(ctx, key)
		if err != nil {
			return err
		}

		next, err := order.SetLineStatus(hostID, status)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		next.UpdatedAt = now
		updated, err = s.stores.Orders.UpdateOrder(ctx, next)
		if err != nil {
			return err
		}

		_, err = s.stores.CatalogEvents.Save(ctx, domain.NewOrderChanged(updated, now))
		return err
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("update line %s of order %s: %w", hostID, key, err)
	}

	if updated.Status.IsClosed() {
		s.logger.Info("order closed", zap.String("host", key.HostName), zap.String("order_id", key.HostOrderID),
			zap.String("status", string(updated.Status)))
	}
	return updated, nil
}

func (s *OrderService) GetOrder(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	order, err := s.load(ctx, key)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %s: %w", key, err)
	}
	return order, nil
}

func (s *OrderService) load(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	order, err := s.stores.Orders.GetOrder(ctx, key)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, key)
	}
	return *order, nil
}

func (s *OrderService) ensureItemsExist(ctx context.Context, hostName string, ids []string) error {
	items, err := s.stores.Items.GetItemsByIDs(ctx, hostName, ids)
	if err != nil {
		return err
	}

	known := make(map[string]struct{}, len(items))
	for _, item := range items {
		known[item.HostID] = struct{}{}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unknown items %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func applyOrderUpdate(order domain.Order, update OrderUpdate) (domain.Order, error) {
	var err error
	if len(update.ItemIDs) > 0 {
		if order, err = order.SetProductLines(update.ItemIDs); err != nil {
			return domain.Order{}, err
		}
	}
	if update.OrderType != "" {
		if order, err = order.SetOrderType(update.OrderType); err != nil {
			return domain.Order{}, err
		}
	}
	if update.Receiver != nil {
		if order, err = order.SetReceiver(*update.Receiver); err != nil {
			return domain.Order{}, err
		}
	}
	if update.CallbackURL != nil {
		if order, err = order.SetCallbackUrl(*update.CallbackURL); err != nil {
			return domain.Order{}, err
		}
	}
	if order.Status.IsClosed() {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrIllegalState, order.Key(), order.Status)
	}
	if update.ContactPerson != "" {
		order.ContactPerson = update.ContactPerson
	}
	if update.ContactEmail != "" {
		if order, err = order.SetContactEmail(update.ContactEmail); err != nil {
			return domain.Order{}, err
		}
	}
	if update.Note != nil {
		order.Note = *update.Note
	}
	return order, nil
}
