package port

import (
	"context"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

// EventLog is the append-only outbox of one event taxonomy. Event bodies are
// never updated; only the processing bookkeeping moves.
type EventLog[E domain.Event] interface {
	// Save appends event, ErrRepository on write failure
	Save(ctx context.Context, event E) (E, error)

	// GetUnprocessedOrderedByCreationTime returns every unprocessed event, oldest first
	GetUnprocessedOrderedByCreationTime(ctx context.Context) ([]E, error)

	// MarkProcessed stamps the processed time once; ErrRepository wrapping ErrNotFound if the event is gone
	MarkProcessed(ctx context.Context, event E) (E, error)

	// RecordFailure increments the attempt counter and stores the last error
	RecordFailure(ctx context.Context, event E, reason string) (E, error)

	// MarkDeadLettered marks the event processed with the error that made it undeliverable
	MarkDeadLettered(ctx context.Context, event E, reason string) (E, error)
}

type StorageEventLog = EventLog[domain.StorageEvent]

type CatalogEventLog = EventLog[domain.CatalogEvent]
