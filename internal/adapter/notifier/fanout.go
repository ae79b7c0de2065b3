package notifier

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var (
	_ port.Notifier = Fanout(nil)
	_ port.Notifier = (*Dedupe)(nil)
)

// Fanout sends every notification to all notifiers. One failing notifier does
// not stop the others.
type Fanout []port.Notifier

func (f Fanout) OrderCreated(ctx context.Context, key string, order domain.Order, items []domain.Item) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.OrderCreated(ctx, key, order, items))
	}
	return errors.Join(errs...)
}

func (f Fanout) ItemChanged(ctx context.Context, key string, item domain.Item) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.ItemChanged(ctx, key, item))
	}
	return errors.Join(errs...)
}

func (f Fanout) OrderChanged(ctx context.Context, key string, order domain.Order) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.OrderChanged(ctx, key, order))
	}
	return errors.Join(errs...)
}

// Dedupe suppresses a notification whose key was already sent, so an event
// that is dispatched again does not notify twice. A failed send releases the
// key for the next attempt. If the guard store is down the notification is sent.
type Dedupe struct {
	next   port.Notifier
	guard  port.IdempotencyStore
	logger *zap.Logger
}

func NewDedupe(next port.Notifier, guard port.IdempotencyStore, logger *zap.Logger) *Dedupe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dedupe{next: next, guard: guard, logger: logger.With(zap.String("component", "notifier_dedupe"))}
}

func (d *Dedupe) OrderCreated(ctx context.Context, key string, order domain.Order, items []domain.Item) error {
	return d.once(ctx, "order_created:"+key, func() error {
		return d.next.OrderCreated(ctx, key, order, items)
	})
}

func (d *Dedupe) ItemChanged(ctx context.Context, key string, item domain.Item) error {
	return d.once(ctx, "item_changed:"+key, func() error {
		return d.next.ItemChanged(ctx, key, item)
	})
}

func (d *Dedupe) OrderChanged(ctx context.Context, key string, order domain.Order) error {
	return d.once(ctx, "order_changed:"+key, func() error {
		return d.next.OrderChanged(ctx, key, order)
	})
}

func (d *Dedupe) once(ctx context.Context, key string, send func() error) error {
	first, err := d.guard.SetIdempotency(ctx, key)
	if err != nil {
		d.logger.Warn("idempotency guard unavailable, sending anyway", zap.String("key", key), zap.Error(err))
		return send()
	}
	if !first {
		d.logger.Debug("notification already sent", zap.String("key", key))
		return nil
	}

	if err := send(); err != nil {
		if clearErr := d.guard.ClearIdempotency(ctx, key); clearErr != nil {
			d.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(clearErr))
		}
		return err
	}
	return nil
}
