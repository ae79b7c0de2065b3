package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type names as stored in the event logs.
const (
	EventTypeItemCreated  = "ItemCreated"
	EventTypeOrderCreated = "OrderCreated"
	EventTypeOrderUpdated = "OrderUpdated"
	EventTypeOrderDeleted = "OrderDeleted"
	EventTypeItemChanged  = "ItemChanged"
	EventTypeOrderChanged = "OrderChanged"
)

// EventMeta is the outbox bookkeeping of an event. Only ProcessedAt,
// Attempts and LastError change after the event is saved.
type EventMeta struct {
	ID          string
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Attempts    int
	LastError   string
}

func newEventMeta(at time.Time) EventMeta {
	return EventMeta{ID: uuid.NewString(), CreatedAt: at.UTC()}
}

func (m EventMeta) IsProcessed() bool {
	return m.ProcessedAt != nil
}

// Event is the part shared by both taxonomies.
type Event interface {
	Metadata() EventMeta
	EventType() string
	// EntityKey groups events that must be applied in creation order.
	EntityKey() string
}

// StorageEvent is consumed by the storage facades.
type StorageEvent interface {
	Event
	Dispatch(ctx context.Context, h StorageEventHandler) error
	storageEvent()
}

// StorageEventHandler has one method per storage event variant, so a new
// variant does not compile until every handler covers it.
type StorageEventHandler interface {
	HandleItemCreated(ctx context.Context, e ItemCreated) error
	HandleOrderCreated(ctx context.Context, e OrderCreated) error
	HandleOrderUpdated(ctx context.Context, e OrderUpdated) error
	HandleOrderDeleted(ctx context.Context, e OrderDeleted) error
}

// CatalogEvent is consumed by the host callback and notification path.
type CatalogEvent interface {
	Event
	Dispatch(ctx context.Context, h CatalogEventHandler) error
	catalogEvent()
}

type CatalogEventHandler interface {
	HandleItemChanged(ctx context.Context, e ItemChanged) error
	HandleOrderChanged(ctx context.Context, e OrderChanged) error
}

func itemEntityKey(k ItemKey) string   { return "item:" + k.String() }
func orderEntityKey(k OrderKey) string { return "order:" + k.String() }

type ItemCreated struct {
	Meta EventMeta `json:"-"`
	Item Item      `json:"item"`
}

func NewItemCreated(item Item, at time.Time) ItemCreated {
	return ItemCreated{Meta: newEventMeta(at), Item: item}
}

func (e ItemCreated) Metadata() EventMeta { return e.Meta }
func (e ItemCreated) EventType() string   { return EventTypeItemCreated }
func (e ItemCreated) EntityKey() string   { return itemEntityKey(e.Item.Key()) }
func (e ItemCreated) Dispatch(ctx context.Context, h StorageEventHandler) error {
	return h.HandleItemCreated(ctx, e)
}
func (ItemCreated) storageEvent() {}

type OrderCreated struct {
	Meta  EventMeta `json:"-"`
	Order Order     `json:"order"`
}

func NewOrderCreated(order Order, at time.Time) OrderCreated {
	return OrderCreated{Meta: newEventMeta(at), Order: order}
}

func (e OrderCreated) Metadata() EventMeta { return e.Meta }
func (e OrderCreated) EventType() string   { return EventTypeOrderCreated }
func (e OrderCreated) EntityKey() string   { return orderEntityKey(e.Order.Key()) }
func (e OrderCreated) Dispatch(ctx context.Context, h StorageEventHandler) error {
	return h.HandleOrderCreated(ctx, e)
}
func (OrderCreated) storageEvent() {}

type OrderUpdated struct {
	Meta  EventMeta `json:"-"`
	Order Order     `json:"order"`
}

func NewOrderUpdated(order Order, at time.Time) OrderUpdated {
	return OrderUpdated{Meta: newEventMeta(at), Order: order}
}

func (e OrderUpdated) Metadata() EventMeta { return e.Meta }
func (e OrderUpdated) EventType() string   { return EventTypeOrderUpdated }
func (e OrderUpdated) EntityKey() string   { return orderEntityKey(e.Order.Key()) }
func (e OrderUpdated) Dispatch(ctx context.Context, h StorageEventHandler) error {
	return h.HandleOrderUpdated(ctx, e)
}
func (OrderUpdated) storageEvent() {}

type OrderDeleted struct {
	Meta        EventMeta `json:"-"`
	HostName    string    `json:"host_name"`
	HostOrderID string    `json:"host_order_id"`
}

func NewOrderDeleted(key OrderKey, at time.Time) OrderDeleted {
	return OrderDeleted{Meta: newEventMeta(at), HostName: key.HostName, HostOrderID: key.HostOrderID}
}

func (e OrderDeleted) Metadata() EventMeta { return e.Meta }
func (e OrderDeleted) EventType() string   { return EventTypeOrderDeleted }
func (e OrderDeleted) OrderKey() OrderKey {
	return OrderKey{HostName: e.HostName, HostOrderID: e.HostOrderID}
}
func (e OrderDeleted) EntityKey() string { return orderEntityKey(e.OrderKey()) }
func (e OrderDeleted) Dispatch(ctx context.Context, h StorageEventHandler) error {
	return h.HandleOrderDeleted(ctx, e)
}
func (OrderDeleted) storageEvent() {}

type ItemChanged struct {
	Meta      EventMeta `json:"-"`
	Item      Item      `json:"item"`
	Timestamp time.Time `json:"timestamp"`
}

func NewItemChanged(item Item, at time.Time) ItemChanged {
	return ItemChanged{Meta: newEventMeta(at), Item: item, Timestamp: at.UTC()}
}

func (e ItemChanged) Metadata() EventMeta { return e.Meta }
func (e ItemChanged) EventType() string   { return EventTypeItemChanged }
func (e ItemChanged) EntityKey() string   { return itemEntityKey(e.Item.Key()) }
func (e ItemChanged) Dispatch(ctx context.Context, h CatalogEventHandler) error {
	return h.HandleItemChanged(ctx, e)
}
func (ItemChanged) catalogEvent() {}

type OrderChanged struct {
	Meta      EventMeta `json:"-"`
	Order     Order     `json:"order"`
	Timestamp time.Time `json:"timestamp"`
}

func NewOrderChanged(order Order, at time.Time) OrderChanged {
	return OrderChanged{Meta: newEventMeta(at), Order: order, Timestamp: at.UTC()}
}

func (e OrderChanged) Metadata() EventMeta { return e.Meta }
func (e OrderChanged) EventType() string   { return EventTypeOrderChanged }
func (e OrderChanged) EntityKey() string   { return orderEntityKey(e.Order.Key()) }
func (e OrderChanged) Dispatch(ctx context.Context, h CatalogEventHandler) error {
	return h.HandleOrderChanged(ctx, e)
}
func (OrderChanged) catalogEvent() {}

// EncodeEvent returns the JSON body of e. Metadata is not part of the body.
func EncodeEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.EventType(), err)
	}
	return payload, nil
}

// DecodeStorageEvent rebuilds a storage event from its stored form.
func DecodeStorageEvent(eventType string, meta EventMeta, payload []byte) (StorageEvent, error) {
	switch eventType {
	case EventTypeItemCreated:
		return decodeInto(payload, func(e *ItemCreated) { e.Meta = meta })
	case EventTypeOrderCreated:
		return decodeInto(payload, func(e *OrderCreated) { e.Meta = meta })
	case EventTypeOrderUpdated:
		return decodeInto(payload, func(e *OrderUpdated) { e.Meta = meta })
	case EventTypeOrderDeleted:
		return decodeInto(payload, func(e *OrderDeleted) { e.Meta = meta })
	default:
		return nil, fmt.Errorf("%w: storage event type %q", ErrNotSupported, eventType)
	}
}

// DecodeCatalogEvent rebuilds a catalogue event from its stored form.
func DecodeCatalogEvent(eventType string, meta EventMeta, payload []byte) (CatalogEvent, error) {
	switch eventType {
	case EventTypeItemChanged:
		return decodeInto(payload, func(e *ItemChanged) { e.Meta = meta })
	case EventTypeOrderChanged:
		return decodeInto(payload, func(e *OrderChanged) { e.Meta = meta })
	default:
		return nil, fmt.Errorf("%w: catalog event type %q", ErrNotSupported, eventType)
	}
}

func decodeInto[T any](payload []byte, setMeta func(*T)) (T, error) {
	var e T
	if err := json.Unmarshal(payload, &e); err != nil {
		var zero T
		return zero, fmt.Errorf("decode event payload: %w", err)
	}
	setMeta(&e)
	return e, nil
}
