// Package order turns carts into immutable orders and manages their status.
package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses.
const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every defined status.
var Statuses = []Status{
	StatusPending,
	StatusPaid,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// ParseStatus validates s against the defined statuses.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &apperr.InvalidTransitionError{Status: s}
}

// Order is a placed order. Everything except Status is immutable.
type Order struct {
	ID        uuid.UUID
	Number    string
	UserID    uuid.UUID
	Status    Status
	Detail    Detail
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Detail holds the money breakdown and the purchased lines.
type Detail struct {
	ID       uuid.UUID
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
	Items    []Item
}

// Item is a frozen purchase line. It never refers back to live catalog data
// except through ProductID.
type Item struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Product   ProductSnapshot
	Variants  []VariantSnapshot
}

// ProductSnapshot is the product as it was when the order was placed.
type ProductSnapshot struct {
	Name        string
	Description string
	BasePrice   decimal.Decimal
}

// VariantSnapshot is a selected variant as it was when the order was placed.
type VariantSnapshot struct {
	ID            uuid.UUID
	Type          catalog.VariantType
	Name          string
	PriceModifier decimal.Decimal
}

// View is the read projection of an order with its owner's public profile.
type View struct {
	Order *Order
	User  user.Profile
}

// Policy holds the flat charges added to every order.
type Policy struct {
	Tax      decimal.Decimal
	Shipping decimal.Decimal
}

// Repository persists orders. GetByID returns an apperr.NotFoundError for
// unknown ids. ListByUser returns newest orders first.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) error
}
