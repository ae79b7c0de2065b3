package port

import (
	"context"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

// Notifier sends best-effort notifications. key is the id of the event that
// caused the notification and identifies duplicates.
type Notifier interface {
	OrderCreated(ctx context.Context, key string, order domain.Order, items []domain.Item) error

	ItemChanged(ctx context.Context, key string, item domain.Item) error

	OrderChanged(ctx context.Context, key string, order domain.Order) error
}
