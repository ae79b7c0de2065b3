package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

const notifyTimeout = 30 * time.Second

var (
	_ domain.StorageEventHandler = (*StorageEventProcessor)(nil)
	_ domain.CatalogEventHandler = (*CatalogEventProcessor)(nil)
)

// StorageEventProcessor applies storage-bound events through the router and
// then notifies. Notification failures never fail the event.
type StorageEventProcessor struct {
	router   *StorageRouter
	items    port.ItemRepository
	notifier port.Notifier
	logger   *zap.Logger
}

func NewStorageEventProcessor(router *StorageRouter, items port.ItemRepository, notifier port.Notifier, logger *zap.Logger) *StorageEventProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorageEventProcessor{
		router:   router,
		items:    items,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "storage_events")),
	}
}

func (p *StorageEventProcessor) HandleItemCreated(ctx context.Context, e domain.ItemCreated) error {
	return p.router.CreateItem(ctx, e.Item)
}

func (p *StorageEventProcessor) HandleOrderCreated(ctx context.Context, e domain.OrderCreated) error {
	if err := p.router.CreateOrder(ctx, e.Order); err != nil {
		return err
	}

	if p.notifier == nil {
		return nil
	}

	items, err := p.items.GetItemsByIDs(ctx, e.Order.HostName, e.Order.ItemIDs())
	if err != nil {
		p.logger.Warn("could not load order items for notification",
			zap.String("event_id", e.Meta.ID),
			zap.String("order_id", e.Order.HostOrderID),
			zap.Error(err),
		)
		return nil
	}

	notify(ctx, p.logger, e, func(ctx context.Context) error {
		return p.notifier.OrderCreated(ctx, e.Meta.ID, e.Order, items)
	})
	return nil
}

func (p *StorageEventProcessor) HandleOrderUpdated(ctx context.Context, e domain.OrderUpdated) error {
	return p.router.UpdateOrder(ctx, e.Order)
}

func (p *StorageEventProcessor) HandleOrderDeleted(ctx context.Context, e domain.OrderDeleted) error {
	return p.router.DeleteOrder(ctx, e.OrderKey())
}

// CatalogEventProcessor tells hosts about item and order changes and keeps
// stock mirrors in step with item changes. A failed mirror update fails the
// event; notifications stay best-effort.
type CatalogEventProcessor struct {
	notifier port.Notifier
	stock    port.StockMirror
	logger   *zap.Logger
}

// NewCatalogEventProcessor accepts a nil notifier or stock mirror when the
// concern is disabled.
func NewCatalogEventProcessor(notifier port.Notifier, stock port.StockMirror, logger *zap.Logger) *CatalogEventProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogEventProcessor{
		notifier: notifier,
		stock:    stock,
		logger:   logger.With(zap.String("component", "catalog_events")),
	}
}

func (p *CatalogEventProcessor) HandleItemChanged(ctx context.Context, e domain.ItemChanged) error {
	if p.stock != nil {
		if err := p.stock.SyncStock(ctx, e.Item); err != nil {
			return err
		}
	}
	if p.notifier == nil {
		return nil
	}
	notify(ctx, p.logger, e, func(ctx context.Context) error {
		return p.notifier.ItemChanged(ctx, e.Meta.ID, e.Item)
	})
	return nil
}

func (p *CatalogEventProcessor) HandleOrderChanged(ctx context.Context, e domain.OrderChanged) error {
	if p.notifier == nil {
		return nil
	}
	notify(ctx, p.logger, e, func(ctx context.Context) error {
		return p.notifier.OrderChanged(ctx, e.Meta.ID, e.Order)
	})
	return nil
}

func notify(ctx context.Context, logger *zap.Logger, e domain.Event, send func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := send(ctx); err != nil {
		logger.Warn("notification failed",
			zap.String("event_id", e.Metadata().ID),
			zap.String("event_type", e.EventType()),
			zap.String("entity_key", e.EntityKey()),
			zap.Error(err),
		)
	}
}
