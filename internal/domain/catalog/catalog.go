// Package catalog describes products and their purchasable variants.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VariantType is the attribute dimension a variant belongs to. A selection
// holds at most one variant per type.
type VariantType string

// Known variant types.
const (
	VariantRAM          VariantType = "ram"
	VariantStorage      VariantType = "storage"
	VariantProcessor    VariantType = "processor"
	VariantGraphics     VariantType = "graphics"
	VariantColor        VariantType = "color"
	VariantConnectivity VariantType = "connectivity"
	VariantScreenSize   VariantType = "screen_size"
	VariantResolution   VariantType = "resolution"
	VariantRefreshRate  VariantType = "refresh_rate"
	VariantWarranty     VariantType = "warranty"
	VariantCondition    VariantType = "condition"
)

// Valid reports whether t is a known variant type.
func (t VariantType) Valid() bool {
	switch t {
	case VariantRAM, VariantStorage, VariantProcessor, VariantGraphics, VariantColor,
		VariantConnectivity, VariantScreenSize, VariantResolution, VariantRefreshRate,
		VariantWarranty, VariantCondition:
		return true
	}
	return false
}

// Product is a catalog item together with its variants.
type Product struct {
	ID          uuid.UUID
	Name        string
	Description string
	Brand       string
	Model       string
	Category    string
	BasePrice   decimal.Decimal
	// BaseStock is only meaningful for products without variants.
	BaseStock   int
	HasVariants bool
	IsActive    bool
	Featured    bool
	ImageURLs   []string
	Variants    []Variant
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variant is one purchasable option of a product, such as a storage size.
type Variant struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	Type          VariantType
	Name          string
	Description   string
	PriceModifier decimal.Decimal
	Stock         int
	IsAvailable   bool
	SortOrder     int
}

// UsesVariants reports whether stock and price are driven by variants rather
// than by BaseStock alone.
func (p *Product) UsesVariants() bool {
	return p.HasVariants && len(p.Variants) > 0
}

// Variant returns the variant of p with the given id.
func (p *Product) Variant(id uuid.UUID) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Reader provides fresh reads of catalog state. Products are returned with
// all of their variants, ordered by sort order.
type Reader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) ([]Product, error)
}

// StockWriter applies guarded stock decrements. Both methods return
// ErrStockConflict when the row holds less than qty.
type StockWriter interface {
	DecrementProductStock(ctx context.Context, productID uuid.UUID, qty int) error
	DecrementVariantStock(ctx context.Context, variantID uuid.UUID, qty int) error
}

// Writer stores products. UpsertProduct replaces the product row and upserts
// its variants by (type, name).
type Writer interface {
	UpsertProduct(ctx context.Context, p *Product) error
}

// Repository is the full catalog persistence capability.
type Repository interface {
	Reader
	StockWriter
	Writer
}
