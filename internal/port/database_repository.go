package port

import (
	"context"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

type ItemRepository interface {
	// GetItem returns nil when the item does not exist
	GetItem(ctx context.Context, key domain.ItemKey) (*domain.Item, error)

	// GetItemsByIDs returns the items of one host that exist, in no particular order
	GetItemsByIDs(ctx context.Context, hostName string, hostIDs []string) ([]domain.Item, error)

	// CreateItem persists a new item, ErrDuplicateResource if the key is taken
	CreateItem(ctx context.Context, item domain.Item) (domain.Item, error)

	// UpdateItem persists item with version check for optimistic locking
	UpdateItem(ctx context.Context, item domain.Item) (domain.Item, error)
}

type OrderRepository interface {
	// GetOrder returns nil when the order does not exist
	GetOrder(ctx context.Context, key domain.OrderKey) (*domain.Order, error)

	// CreateOrder persists a new order with its lines, ErrDuplicateResource if the key is taken
	CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	// UpdateOrder persists order with version check for optimistic locking
	UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	// DeleteOrder removes the order and its lines
	DeleteOrder(ctx context.Context, key domain.OrderKey) error
}

// Transactor runs fn in one database transaction. Repositories and event logs
// called with the ctx handed to fn take part in that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
