package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/core/service"
)

// ItemCommands is the item side of the host API.
type ItemCommands interface {
	CreateItem(ctx context.Context, item domain.Item) (domain.Item, error)
	GetItem(ctx context.Context, key domain.ItemKey) (domain.Item, error)
	SynchronizeStock(ctx context.Context, key domain.ItemKey, quantity int, location *string) (domain.Item, error)
	PickItem(ctx context.Context, key domain.ItemKey, amount int) (domain.Item, error)
}

// OrderCommands is the order side of the host API.
type OrderCommands interface {
	CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	GetOrder(ctx context.Context, key domain.OrderKey) (domain.Order, error)
	UpdateOrder(ctx context.Context, update service.OrderUpdate) (domain.Order, error)
	DeleteOrder(ctx context.Context, key domain.OrderKey) error
	UpdateLineStatus(ctx context.Context, key domain.OrderKey, hostID string, status domain.LineStatus) (domain.Order, error)
}

type CreateItemRequest struct {
	HostName             string `json:"host_name" validate:"required"`
	HostID               string `json:"host_id" validate:"required"`
	Description          string `json:"description"`
	ItemCategory         string `json:"item_category"`
	PreferredEnvironment string `json:"preferred_environment"`
	Packaging            string `json:"packaging"`
	CallbackURL          string `json:"callback_url" validate:"omitempty,url"`
	Location             string `json:"location"`
	Quantity             int    `json:"quantity" validate:"gte=0"`
}

func (r CreateItemRequest) toDomain() domain.Item {
	return domain.Item{
		HostName:             r.HostName,
		HostID:               r.HostID,
		Description:          r.Description,
		ItemCategory:         domain.ItemCategory(strings.ToUpper(r.ItemCategory)),
		PreferredEnvironment: domain.Environment(strings.ToUpper(r.PreferredEnvironment)),
		Packaging:            domain.Packaging(strings.ToUpper(r.Packaging)),
		CallbackURL:          r.CallbackURL,
		Location:             r.Location,
		Quantity:             r.Quantity,
	}
}

type ItemKeyRequest struct {
	HostName string `json:"host_name" validate:"required"`
	HostID   string `json:"host_id" validate:"required"`
}

func (r ItemKeyRequest) key() domain.ItemKey {
	return domain.ItemKey{HostName: r.HostName, HostID: r.HostID}
}

// SynchronizeStockRequest is a stock count reported by a storage system.
// Location may be left out when the quantity is zero.
type SynchronizeStockRequest struct {
	ItemKeyRequest
	Quantity int     `json:"quantity" validate:"gte=0"`
	Location *string `json:"location,omitempty"`
}

type PickItemRequest struct {
	ItemKeyRequest
	Amount int `json:"amount" validate:"gt=0"`
}

type CreateOrderRequest struct {
	HostName      string          `json:"host_name" validate:"required"`
	HostOrderID   string          `json:"host_order_id" validate:"required"`
	ItemIDs       []string        `json:"item_ids" validate:"required,min=1,dive,required"`
	OrderType     string          `json:"order_type"`
	ContactPerson string          `json:"contact_person" validate:"required"`
	ContactEmail  string          `json:"contact_email" validate:"omitempty,email"`
	Receiver      domain.Receiver `json:"receiver"`
	Note          string          `json:"note"`
	CallbackURL   string          `json:"callback_url" validate:"omitempty,url"`
}

func (r CreateOrderRequest) toDomain() domain.Order {
	lines := make([]domain.OrderLine, 0, len(r.ItemIDs))
	for _, id := range r.ItemIDs {
		lines = append(lines, domain.OrderLine{HostID: id})
	}
	return domain.Order{
		HostName:      r.HostName,
		HostOrderID:   r.HostOrderID,
		Lines:         lines,
		OrderType:     domain.OrderType(strings.ToUpper(r.OrderType)),
		ContactPerson: r.ContactPerson,
		ContactEmail:  r.ContactEmail,
		Receiver:      r.Receiver,
		Note:          r.Note,
		CallbackURL:   r.CallbackURL,
	}
}

type OrderKeyRequest struct {
	HostName    string `json:"host_name" validate:"required"`
	HostOrderID string `json:"host_order_id" validate:"required"`
}

func (r OrderKeyRequest) key() domain.OrderKey {
	return domain.OrderKey{HostName: r.HostName, HostOrderID: r.HostOrderID}
}

type UpdateOrderRequest struct {
	OrderKeyRequest
	ItemIDs       []string         `json:"item_ids,omitempty" validate:"omitempty,dive,required"`
	OrderType     string           `json:"order_type,omitempty"`
	ContactPerson string           `json:"contact_person,omitempty"`
	ContactEmail  string           `json:"contact_email,omitempty" validate:"omitempty,email"`
	Receiver      *domain.Receiver `json:"receiver,omitempty"`
	Note          *string          `json:"note,omitempty"`
	CallbackURL   *string          `json:"callback_url,omitempty"`
}

func (r UpdateOrderRequest) toUpdate() service.OrderUpdate {
	return service.OrderUpdate{
		Key:           r.key(),
		ItemIDs:       r.ItemIDs,
		OrderType:     domain.OrderType(strings.ToUpper(r.OrderType)),
		ContactPerson: r.ContactPerson,
		ContactEmail:  r.ContactEmail,
		Receiver:      r.Receiver,
		Note:          r.Note,
		CallbackURL:   r.CallbackURL,
	}
}

type UpdateLineStatusRequest struct {
	OrderKeyRequest
	HostID string `json:"host_id" validate:"required"`
	Status string `json:"status" validate:"required"`
}

type Empty struct{}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest reports tag violations as a domain validation error.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}
