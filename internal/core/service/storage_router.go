package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

const defaultFacadeTimeout = 10 * time.Second

// StorageRouter fans operations out to the storage facades that are
// responsible for an item or a location. The facade set is fixed at start-up.
type StorageRouter struct {
	facades []port.StorageFacade
	items   port.ItemRepository
	timeout time.Duration
	logger  *zap.Logger
}

func NewStorageRouter(facades []port.StorageFacade, items port.ItemRepository, timeout time.Duration, logger *zap.Logger) *StorageRouter {
	if timeout <= 0 {
		timeout = defaultFacadeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorageRouter{
		facades: append([]port.StorageFacade(nil), facades...),
		items:   items,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "storage_router")),
	}
}

// CreateItem creates item in every storage system that can handle it.
// An item no storage system handles is not an error.
func (r *StorageRouter) CreateItem(ctx context.Context, item domain.Item) error {
	var targets []port.StorageFacade
	for _, facade := range r.facades {
		if facade.CanHandleItem(item) {
			targets = append(targets, facade)
		}
	}

	logger := r.logger.With(zap.String("host", item.HostName), zap.String("host_id", item.HostID))
	if len(targets) == 0 {
		logger.Info("no storage system handles item, nothing to create")
		return nil
	}

	var errs []error
	for _, facade := range targets {
		err := r.call(ctx, facade, func(ctx context.Context) error {
			return facade.CreateItem(ctx, item)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateOrder sends every storage system a sub-order holding only the lines
// whose items are at one of its locations.
func (r *StorageRouter) CreateOrder(ctx context.Context, order domain.Order) error {
	parts, err := r.partition(ctx, order)
	if err != nil {
		return err
	}

	var errs []error
	for _, part := range parts {
		err := r.call(ctx, part.facade, func(ctx context.Context) error {
			return part.facade.CreateOrder(ctx, part.order)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UpdateOrder sends every storage system its part of the updated order.
func (r *StorageRouter) UpdateOrder(ctx context.Context, order domain.Order) error {
	parts, err := r.partition(ctx, order)
	if err != nil {
		return err
	}

	var errs []error
	for _, part := range parts {
		err := r.call(ctx, part.facade, func(ctx context.Context) error {
			updated, err := part.facade.UpdateOrder(ctx, part.order)
			if err == nil {
				r.logger.Debug("storage system updated order",
					zap.String("facade", part.facade.Name()),
					zap.String("order_id", updated.HostOrderID),
					zap.String("status", string(updated.Status)),
				)
			}
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteOrder asks every storage system to delete the order. Deleting is
// idempotent on the storage side, so systems without the order are asked too.
func (r *StorageRouter) DeleteOrder(ctx context.Context, key domain.OrderKey) error {
	var errs []error
	for _, facade := range r.facades {
		err := r.call(ctx, facade, func(ctx context.Context) error {
			return facade.DeleteOrder(ctx, key)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type subOrder struct {
	facade port.StorageFacade
	order  domain.Order
}

// partition groups the order lines by the facade owning the item location.
// Lines whose item is unknown or at a location no facade owns are left out.
func (r *StorageRouter) partition(ctx context.Context, order domain.Order) ([]subOrder, error) {
	items, err := r.items.GetItemsByIDs(ctx, order.HostName, order.ItemIDs())
	if err != nil {
		return nil, fmt.Errorf("resolve items of order %s: %w", order.Key(), err)
	}

	byID := make(map[string]domain.Item, len(items))
	for _, item := range items {
		byID[item.HostID] = item
	}

	logger := r.logger.With(zap.String("host", order.HostName), zap.String("order_id", order.HostOrderID))

	ids := make(map[int][]string)
	for _, hostID := range order.ItemIDs() {
		item, ok := byID[hostID]
		if !ok {
			logger.Warn("order line refers to unknown item, leaving it out", zap.String("host_id", hostID))
			continue
		}

		owner := -1
		for i, facade := range r.facades {
			if facade.CanHandleLocation(item.Location) {
				owner = i
				break
			}
		}
		if owner < 0 {
			logger.Warn("no storage system handles item location, leaving line out",
				zap.String("host_id", hostID),
				zap.String("location", item.Location),
			)
			continue
		}
		ids[owner] = append(ids[owner], hostID)
	}

	var parts []subOrder
	for i, facade := range r.facades {
		if len(ids[i]) == 0 {
			continue
		}
		parts = append(parts, subOrder{facade: facade, order: order.WithLines(ids[i])})
	}
	return parts, nil
}

// call runs op with the facade timeout. Duplicates count as success and
// anything outside the facade error taxonomy becomes a storage system error.
func (r *StorageRouter) call(ctx context.Context, facade port.StorageFacade, op func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := op(callCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDuplicateResource):
		r.logger.Info("storage system already has the resource", zap.String("facade", facade.Name()), zap.Error(err))
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s timed out after %s: %v", domain.ErrStorageSystem, facade.Name(), r.timeout, err)
	case errors.Is(err, domain.ErrStorageSystem), errors.Is(err, domain.ErrNotSupported):
		return fmt.Errorf("%s: %w", facade.Name(), err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrStorageSystem, facade.Name(), err)
	}
}
