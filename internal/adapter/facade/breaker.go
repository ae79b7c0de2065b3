package facade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var _ port.StorageFacade = (*Breaker)(nil)

// BreakerConfig trips the breaker after ConsecutiveFailures storage system
// errors and probes again after OpenTimeout.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// Breaker stops calling a failing storage system for a while. Duplicate and
// not-supported answers come from a healthy system and do not count as failures.
type Breaker struct {
	next port.StorageFacade
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next port.StorageFacade, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}

	logger = logger.With(zap.String("component", "breaker"), zap.String("facade", next.Name()))
	settings := gobreaker.Settings{
		Name:    next.Name(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrDuplicateResource) ||
				errors.Is(err, domain.ErrNotSupported)
		},
	}

	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Name() string {
	return b.next.Name()
}

func (b *Breaker) CanHandleItem(item domain.Item) bool {
	return b.next.CanHandleItem(item)
}

func (b *Breaker) CanHandleLocation(location string) bool {
	return b.next.CanHandleLocation(location)
}

func (b *Breaker) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.CreateItem(ctx, item)
	})
	return err
}

func (b *Breaker) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.CreateOrder(ctx, order)
	})
	return err
}

func (b *Breaker) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	result, err := b.execute(func() (any, error) {
		return b.next.UpdateOrder(ctx, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result.(domain.Order), nil
}

func (b *Breaker) DeleteOrder(ctx context.Context, key domain.OrderKey) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.DeleteOrder(ctx, key)
	})
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) execute(op func() (any, error)) (any, error) {
	result, err := b.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStorageSystem, b.next.Name(), err)
	}
	return result, err
}
