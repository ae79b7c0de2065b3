package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

const (
	storageEventsTable = "storage_events"
	catalogEventsTable = "catalog_events"
)

var (
	_ port.StorageEventLog = (*EventLog[domain.StorageEvent])(nil)
	_ port.CatalogEventLog = (*EventLog[domain.CatalogEvent])(nil)
)

// DecodeFunc rebuilds an event from its stored type, metadata and payload.
type DecodeFunc[E domain.Event] func(eventType string, meta domain.EventMeta, payload []byte) (E, error)

// EventLog is a table-backed outbox for one event taxonomy.
type EventLog[E domain.Event] struct {
	store  *SQLStore
	table  string
	decode DecodeFunc[E]
	now    func() time.Time
}

func NewStorageEventLog(store *SQLStore) *EventLog[domain.StorageEvent] {
	return &EventLog[domain.StorageEvent]{store: store, table: storageEventsTable, decode: domain.DecodeStorageEvent, now: time.Now}
}

func NewCatalogEventLog(store *SQLStore) *EventLog[domain.CatalogEvent] {
	return &EventLog[domain.CatalogEvent]{store: store, table: catalogEventsTable, decode: domain.DecodeCatalogEvent, now: time.Now}
}

func (l *EventLog[E]) Save(ctx context.Context, event E) (E, error) {
	var zero E

	payload, err := domain.EncodeEvent(event)
	if err != nil {
		return zero, repoErr("encode event", err)
	}

	meta := event.Metadata()
	_, err = l.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO `+l.table+` (id, event_type, entity_key, payload, created_at, processed_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, NULL, 0, '')`,
		meta.ID, event.EventType(), event.EntityKey(), string(payload), toMillis(meta.CreatedAt),
	)
	if isDuplicateKey(err) {
		return zero, fmt.Errorf("%w: event %s", domain.ErrDuplicateResource, meta.ID)
	}
	if err != nil {
		return zero, repoErr("insert event", err)
	}
	return event, nil
}

// GetUnprocessedOrderedByCreationTime orders by creation time and breaks
// ties with the insertion sequence. Rows of an unknown event type or with a
// payload that no longer decodes are dead-lettered on read since no handler
// can ever take them.
func (l *EventLog[E]) GetUnprocessedOrderedByCreationTime(ctx context.Context) ([]E, error) {
	rows, err := l.store.conn(ctx).QueryContext(ctx, `
		SELECT `+eventColumns+` FROM `+l.table+`
		WHERE processed_at IS NULL
		ORDER BY created_at, seq`)
	if err != nil {
		return nil, repoErr("query unprocessed events", err)
	}

	var (
		events    []E
		undecoded = make(map[string]string)
	)
	for rows.Next() {
		event, id, err := l.scan(rows)
		if errors.Is(err, errUndecodable) {
			undecoded[id] = err.Error()
			continue
		}
		if err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, repoErr("iterate events", err)
	}
	rows.Close()

	for id, reason := range undecoded {
		if _, err := l.store.conn(ctx).ExecContext(ctx, `
			UPDATE `+l.table+` SET processed_at = ?, dead_letter = 1, last_error = ?
			WHERE id = ? AND processed_at IS NULL`,
			toMillis(l.now()), reason, id,
		); err != nil {
			return nil, repoErr("dead-letter undecodable event", err)
		}
	}
	return events, nil
}

// MarkProcessed stamps processed_at once. Marking an already processed event
// returns the stored event unchanged.
func (l *EventLog[E]) MarkProcessed(ctx context.Context, event E) (E, error) {
	return l.finish(ctx, event, nil)
}

func (l *EventLog[E]) MarkDeadLettered(ctx context.Context, event E, reason string) (E, error) {
	return l.finish(ctx, event, &reason)
}

func (l *EventLog[E]) RecordFailure(ctx context.Context, event E, reason string) (E, error) {
	var zero E
	id := event.Metadata().ID

	_, err := l.store.conn(ctx).ExecContext(ctx, `
		UPDATE `+l.table+` SET attempts = attempts + 1, last_error = ?
		WHERE id = ? AND processed_at IS NULL`,
		reason, id,
	)
	if err != nil {
		return zero, repoErr("record event failure", err)
	}
	return l.get(ctx, id)
}

func (l *EventLog[E]) finish(ctx context.Context, event E, reason *string) (E, error) {
	var zero E
	id := event.Metadata().ID
	now := toMillis(l.now())

	var err error
	if reason == nil {
		_, err = l.store.conn(ctx).ExecContext(ctx, `
			UPDATE `+l.table+` SET processed_at = ?
			WHERE id = ? AND processed_at IS NULL`,
			now, id,
		)
	} else {
		_, err = l.store.conn(ctx).ExecContext(ctx, `
			UPDATE `+l.table+` SET processed_at = ?, dead_letter = 1, last_error = ?
			WHERE id = ? AND processed_at IS NULL`,
			now, *reason, id,
		)
	}
	if err != nil {
		return zero, repoErr("mark event processed", err)
	}

	// No row updated means already processed, and the stored row wins, or gone.
	return l.get(ctx, id)
}

func (l *EventLog[E]) get(ctx context.Context, id string) (E, error) {
	var zero E
	row := l.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM `+l.table+` WHERE id = ?`, id)

	event, _, err := l.scan(row)
	if errors.Is(err, domain.ErrNotFound) {
		return zero, fmt.Errorf("%w: %w: event %s", domain.ErrRepository, domain.ErrNotFound, id)
	}
	return event, err
}

var errUndecodable = errors.New("undecodable event")

const eventColumns = `id, event_type, payload, created_at, processed_at, attempts, last_error`

func (l *EventLog[E]) scan(row rowScanner) (E, string, error) {
	var (
		zero        E
		meta        domain.EventMeta
		eventType   string
		payload     string
		createdAt   int64
		processedAt sql.NullInt64
	)
	err := row.Scan(&meta.ID, &eventType, &payload, &createdAt, &processedAt, &meta.Attempts, &meta.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, "", domain.ErrNotFound
	}
	if err != nil {
		return zero, "", repoErr("scan event", err)
	}

	meta.CreatedAt = fromMillis(createdAt)
	if processedAt.Valid {
		at := fromMillis(processedAt.Int64)
		meta.ProcessedAt = &at
	}

	event, err := l.decode(eventType, meta, []byte(payload))
	if err != nil {
		return zero, meta.ID, fmt.Errorf("%w: %w: event %s: %w", domain.ErrRepository, errUndecodable, meta.ID, err)
	}
	return event, meta.ID, nil
}
