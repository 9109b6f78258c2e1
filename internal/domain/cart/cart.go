// Package cart implements the per-user shopping cart aggregate.
package cart

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// Cart holds the line items of one user. It is created lazily and is never
// deleted, only emptied.
type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Items     []Item
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one cart line: a product, a variant selection and a quantity priced
// at the unit price seen when the line was first added.
type Item struct {
	ID              uuid.UUID
	CartID          uuid.UUID
	ProductID       uuid.UUID
	Quantity        int
	PriceAtAddition decimal.Decimal
	Subtotal        decimal.Decimal
	Variants        []SelectedVariant
	CreatedAt       time.Time
}

// SelectedVariant records which variant was chosen for a line. Type and Name
// are kept for display; ID is authoritative.
type SelectedVariant struct {
	ID   uuid.UUID
	Type catalog.VariantType
	Name string
}

// New returns an empty cart for userID.
func New(userID uuid.UUID) *Cart {
	now := time.Now().UTC()
	return &Cart{
		ID:        uuid.New(),
		UserID:    userID,
		Items:     []Item{},
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ItemCount is the number of units across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Item returns the line with the given id.
func (c *Cart) Item(id uuid.UUID) (*Item, bool) {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// Line returns the line for productID whose variant set equals sel.
func (c *Cart) Line(productID uuid.UUID, sel catalog.Selection) (*Item, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].Selection().Equal(sel) {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// Remove deletes the line with the given id and reports whether it existed.
func (c *Cart) Remove(id uuid.UUID) bool {
	for i := range c.Items {
		if c.Items[i].ID == id {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.Recalculate()
			return true
		}
	}
	return false
}

// Empty drops every line and resets the total.
func (c *Cart) Empty() {
	c.Items = []Item{}
	c.Recalculate()
}

// Recalculate sets Total to the sum of line subtotals.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Subtotal)
	}
	c.Total = total.Round(2)
	c.UpdatedAt = time.Now().UTC()
}

// Selection returns the variant ids of the line.
func (it *Item) Selection() catalog.Selection {
	ids := make([]uuid.UUID, len(it.Variants))
	for i, v := range it.Variants {
		ids[i] = v.ID
	}
	return catalog.NewSelection(ids)
}

// SetQuantity changes the quantity and recomputes the subtotal at the price
// captured when the line was added.
func (it *Item) SetQuantity(qty int) {
	it.Quantity = qty
	it.Subtotal = it.PriceAtAddition.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// Clone returns a deep copy of c.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Items = make([]Item, len(c.Items))
	for i, it := range c.Items {
		it.Variants = slices.Clone(it.Variants)
		out.Items[i] = it
	}
	return &out
}

// Repository persists carts. GetByUser returns an apperr.NotFoundError when
// the user has no cart yet. Create inserts an empty cart and does nothing when
// the user already has one. Save writes the cart row and replaces its items.
type Repository interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*Cart, error)
	Create(ctx context.Context, c *Cart) error
	Save(ctx context.Context, c *Cart) error
}
