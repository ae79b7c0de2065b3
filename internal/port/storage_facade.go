package port

import (
	"context"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

// StorageFacade is an adapter to one storage system. Errors wrap one of
// ErrStorageSystem, ErrDuplicateResource or ErrNotSupported.
type StorageFacade interface {
	// Name identifies the facade in logs and metrics
	Name() string

	// CanHandleItem reports whether the storage system should know about item
	CanHandleItem(item domain.Item) bool

	// CanHandleLocation reports whether location belongs to the storage system
	CanHandleLocation(location string) bool

	CreateItem(ctx context.Context, item domain.Item) error

	CreateOrder(ctx context.Context, order domain.Order) error

	UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	DeleteOrder(ctx context.Context, key domain.OrderKey) error
}

// StockMirror follows catalogue stock changes for a storage system that keeps
// its own count. Errors wrap ErrStorageSystem.
type StockMirror interface {
	SyncStock(ctx context.Context, item domain.Item) error
}
