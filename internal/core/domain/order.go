package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusNotStarted OrderStatus = "NOT_STARTED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusReturned   OrderStatus = "RETURNED"
	OrderStatusDeleted    OrderStatus = "DELETED"
)

// rank places a status in the lifecycle lattice
// NOT_STARTED < IN_PROGRESS < COMPLETED < {RETURNED, DELETED}.
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusNotStarted:
		return 0
	case OrderStatusInProgress:
		return 1
	case OrderStatusCompleted:
		return 2
	case OrderStatusReturned, OrderStatusDeleted:
		return 3
	default:
		return -1
	}
}

func (s OrderStatus) IsValid() bool {
	return s.rank() >= 0
}

// IsClosed reports whether no further line or detail changes are accepted.
func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusCompleted || s == OrderStatusReturned || s == OrderStatusDeleted
}

type LineStatus string

const (
	LineStatusNotStarted LineStatus = "NOT_STARTED"
	LineStatusPicked     LineStatus = "PICKED"
	LineStatusFailed     LineStatus = "FAILED"
	LineStatusReturned   LineStatus = "RETURNED"
)

func (s LineStatus) IsValid() bool {
	switch s {
	case LineStatusNotStarted, LineStatusPicked, LineStatusFailed, LineStatusReturned:
		return true
	default:
		return false
	}
}

type OrderType string

const (
	OrderTypeLoan         OrderType = "LOAN"
	OrderTypeDigitization OrderType = "DIGITIZATION"
)

func (t OrderType) IsValid() bool {
	return t == OrderTypeLoan || t == OrderTypeDigitization
}

// OrderLine is one requested item of an order.
type OrderLine struct {
	HostID string     `json:"host_id"`
	Status LineStatus `json:"status"`
}

// Receiver is where an order is delivered.
type Receiver struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Order is a request from a host to retrieve items from storage.
// Status is derived from the line statuses and only ever moves forward.
type Order struct {
	HostName      string      `json:"host_name"`
	HostOrderID   string      `json:"host_order_id"`
	Status        OrderStatus `json:"status"`
	Lines         []OrderLine `json:"lines"`
	OrderType     OrderType   `json:"order_type"`
	ContactPerson string      `json:"contact_person"`
	ContactEmail  string      `json:"contact_email,omitempty"`
	Receiver      Receiver    `json:"receiver"`
	Note          string      `json:"note,omitempty"`
	CallbackURL   string      `json:"callback_url,omitempty"`
	Version       int         `json:"version"` // optimistic locking
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// OrderKey is the natural key of an order.
type OrderKey struct {
	HostName    string
	HostOrderID string
}

func (k OrderKey) String() string {
	return k.HostName + "/" + k.HostOrderID
}

// NewOrder validates a freshly placed order. Every line starts NOT_STARTED.
func NewOrder(order Order) (Order, error) {
	order.HostName = strings.TrimSpace(order.HostName)
	order.HostOrderID = strings.TrimSpace(order.HostOrderID)
	if order.HostName == "" {
		return Order{}, fmt.Errorf("%w: host name is required", ErrValidation)
	}
	if order.HostOrderID == "" {
		return Order{}, fmt.Errorf("%w: host order id is required", ErrValidation)
	}
	if err := validatePrintable("host name", order.HostName); err != nil {
		return Order{}, err
	}
	if err := validatePrintable("host order id", order.HostOrderID); err != nil {
		return Order{}, err
	}
	if err := validatePrintable("contact email", order.ContactEmail); err != nil {
		return Order{}, err
	}
	if order.OrderType == "" {
		order.OrderType = OrderTypeLoan
	}
	if !order.OrderType.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown order type %q", ErrValidation, order.OrderType)
	}
	if strings.TrimSpace(order.ContactPerson) == "" {
		return Order{}, fmt.Errorf("%w: contact person is required", ErrValidation)
	}
	if order.CallbackURL != "" {
		if err := validateAbsoluteURL(order.CallbackURL); err != nil {
			return Order{}, err
		}
	}

	ids := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.HostID)
	}
	lines, err := newLines(ids)
	if err != nil {
		return Order{}, err
	}

	order.Lines = lines
	order.Status = OrderStatusNotStarted
	return order, nil
}

func (o Order) Key() OrderKey {
	return OrderKey{HostName: o.HostName, HostOrderID: o.HostOrderID}
}

// SameAs reports identity equality. Mutable fields are ignored.
func (o Order) SameAs(other Order) bool {
	return o.Key() == other.Key()
}

// ItemIDs returns the host ids of all lines in line order.
func (o Order) ItemIDs() []string {
	ids := make([]string, 0, len(o.Lines))
	for _, line := range o.Lines {
		ids = append(ids, line.HostID)
	}
	return ids
}

// WithLines returns a copy of o restricted to the lines whose host id is in ids.
// Used to build per-storage sub-orders.
func (o Order) WithLines(ids []string) Order {
	lines := make([]OrderLine, 0, len(ids))
	for _, line := range o.Lines {
		if slices.Contains(ids, line.HostID) {
			lines = append(lines, line)
		}
	}
	o.Lines = lines
	return o
}

// SetProductLines replaces the line list. Only allowed before processing starts.
func (o Order) SetProductLines(ids []string) (Order, error) {
	if o.Status != OrderStatusNotStarted {
		return Order{}, fmt.Errorf("%w: order %s is %s, lines can only change before processing starts",
			ErrIllegalState, o.Key(), o.Status)
	}

	lines, err := newLines(ids)
	if err != nil {
		return Order{}, err
	}

	o.Lines = lines
	return o, nil
}

// SetLineStatus updates one line and recomputes the order status.
// On a completed order the only accepted change is returning a picked line.
func (o Order) SetLineStatus(hostID string, status LineStatus) (Order, error) {
	if !status.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown line status %q", ErrValidation, status)
	}

	idx := slices.IndexFunc(o.Lines, func(line OrderLine) bool { return line.HostID == hostID })
	if idx < 0 {
		return Order{}, fmt.Errorf("%w: order %s has no line for item %q", ErrIllegalState, o.Key(), hostID)
	}

	current := o.Lines[idx].Status
	switch o.Status {
	case OrderStatusDeleted, OrderStatusReturned:
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrIllegalState, o.Key(), o.Status)
	case OrderStatusCompleted:
		if status != LineStatusReturned || current != LineStatusPicked {
			return Order{}, fmt.Errorf("%w: order %s is %s, line %s cannot change from %s to %s",
				ErrIllegalState, o.Key(), o.Status, hostID, current, status)
		}
	default:
		if status == LineStatusReturned {
			return Order{}, fmt.Errorf("%w: line %s of order %s cannot be returned before the order is completed",
				ErrIllegalState, hostID, o.Key())
		}
	}

	lines := slices.Clone(o.Lines)
	lines[idx].Status = status

	next := deriveOrderStatus(lines)
	if next.rank() < o.Status.rank() {
		return Order{}, fmt.Errorf("%w: order %s cannot move back from %s to %s",
			ErrIllegalState, o.Key(), o.Status, next)
	}

	o.Lines = lines
	o.Status = next
	return o, nil
}

// SetCallbackUrl replaces the callback URL. An empty url clears it.
func (o Order) SetCallbackUrl(raw string) (Order, error) {
	if err := o.ensureOpen("callback url"); err != nil {
		return Order{}, err
	}
	if raw != "" {
		if err := validateAbsoluteURL(raw); err != nil {
			return Order{}, err
		}
	}
	o.CallbackURL = raw
	return o, nil
}

func (o Order) SetReceiver(receiver Receiver) (Order, error) {
	if err := o.ensureOpen("receiver"); err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(receiver.Name) == "" {
		return Order{}, fmt.Errorf("%w: receiver name is required", ErrValidation)
	}
	o.Receiver = receiver
	return o, nil
}

func (o Order) SetContactEmail(email string) (Order, error) {
	if err := o.ensureOpen("contact email"); err != nil {
		return Order{}, err
	}
	if err := validatePrintable("contact email", email); err != nil {
		return Order{}, err
	}
	o.ContactEmail = email
	return o, nil
}

func (o Order) SetOrderType(orderType OrderType) (Order, error) {
	if err := o.ensureOpen("order type"); err != nil {
		return Order{}, err
	}
	if !orderType.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown order type %q", ErrValidation, orderType)
	}
	o.OrderType = orderType
	return o, nil
}

// Delete cancels the order. Deleted and returned orders cannot be deleted again.
func (o Order) Delete() (Order, error) {
	if o.Status == OrderStatusDeleted || o.Status == OrderStatusReturned {
		return Order{}, fmt.Errorf("%w: order %s is already %s", ErrIllegalState, o.Key(), o.Status)
	}
	o.Status = OrderStatusDeleted
	return o, nil
}

func (o Order) ensureOpen(field string) error {
	if o.Status.IsClosed() {
		return fmt.Errorf("%w: order %s is %s, %s cannot change", ErrIllegalState, o.Key(), o.Status, field)
	}
	return nil
}

func newLines(ids []string) ([]OrderLine, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: order must have at least one line", ErrValidation)
	}

	lines := make([]OrderLine, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: order line host id is required", ErrValidation)
		}
		if err := validatePrintable("order line host id", id); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: item %q is listed twice", ErrValidation, id)
		}
		seen[id] = struct{}{}
		lines = append(lines, OrderLine{HostID: id, Status: LineStatusNotStarted})
	}
	return lines, nil
}

func deriveOrderStatus(lines []OrderLine) OrderStatus {
	var notStarted, returned int
	for _, line := range lines {
		switch line.Status {
		case LineStatusNotStarted:
			notStarted++
		case LineStatusReturned:
			returned++
		}
	}

	switch {
	case notStarted == len(lines):
		return OrderStatusNotStarted
	case returned > 0 && notStarted == 0 && allReturnedOrFailed(lines):
		return OrderStatusReturned
	case notStarted == 0:
		return OrderStatusCompleted
	default:
		return OrderStatusInProgress
	}
}

func allReturnedOrFailed(lines []OrderLine) bool {
	for _, line := range lines {
		if line.Status != LineStatusReturned && line.Status != LineStatusFailed {
			return false
		}
	}
	return true
}
