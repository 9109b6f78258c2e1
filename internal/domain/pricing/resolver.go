// Package pricing resolves unit prices and available stock for a product and
// a variant selection.
package pricing

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// Quote is the purchase-time resolution of one line: the selected variants,
// the unit price and the purchasable quantity.
type Quote struct {
	Product   *catalog.Product
	Variants  []catalog.Variant
	UnitPrice decimal.Decimal
	Available int
}

// SelectVariants resolves ids against the variants of p. Every id must name a
// variant of p and no two selected variants may share a type.
func SelectVariants(p *catalog.Product, ids []uuid.UUID) ([]catalog.Variant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if !p.UsesVariants() {
		return nil, &apperr.InvalidSelectionError{ProductID: p.ID, Reason: "product has no variants"}
	}

	position := make(map[uuid.UUID]int, len(p.Variants))
	for i, v := range p.Variants {
		position[v.ID] = i
	}

	selected := make([]catalog.Variant, 0, len(ids))
	seen := make(map[catalog.VariantType]uuid.UUID, len(ids))
	for _, id := range ids {
		v, ok := p.Variant(id)
		if !ok {
			return nil, &apperr.InvalidSelectionError{ProductID: p.ID, VariantID: id, Reason: "does not belong to product"}
		}
		if _, dup := seen[v.Type]; dup {
			return nil, &apperr.InvalidSelectionError{
				ProductID: p.ID,
				VariantID: id,
				Reason:    fmt.Sprintf("duplicates variant type %s", v.Type),
			}
		}
		seen[v.Type] = id
		selected = append(selected, v)
	}

	// Catalog order, so equal selections always resolve identically.
	slices.SortFunc(selected, func(a, b catalog.Variant) int {
		return position[a.ID] - position[b.ID]
	})
	return selected, nil
}

// UnitPrice is the base price plus every selected modifier, rounded to cents.
func UnitPrice(p *catalog.Product, selected []catalog.Variant) decimal.Decimal {
	price := p.BasePrice
	for _, v := range selected {
		price = price.Add(v.PriceModifier)
	}
	return price.Round(2)
}

// CalculatePrice returns the unit price of p for the given selection.
func CalculatePrice(p *catalog.Product, ids []uuid.UUID) (decimal.Decimal, error) {
	selected, err := SelectVariants(p, ids)
	if err != nil {
		return decimal.Zero, err
	}
	return UnitPrice(p, selected), nil
}

// AvailableStock returns the stock figure for p and the given selection.
//
// For a variant product with an empty selection the result is the sum over
// available variants. That figure is informational only; use QuoteSelection
// to gate a purchase.
func AvailableStock(p *catalog.Product, ids []uuid.UUID) (int, error) {
	if !p.UsesVariants() {
		if len(ids) > 0 {
			return 0, &apperr.InvalidSelectionError{ProductID: p.ID, Reason: "product has no variants"}
		}
		return p.BaseStock, nil
	}

	if len(ids) == 0 {
		total := 0
		for _, v := range p.Variants {
			if v.IsAvailable {
				total += v.Stock
			}
		}
		return total, nil
	}

	selected, err := SelectVariants(p, ids)
	if err != nil {
		return 0, err
	}
	return selectionStock(p, selected)
}

// QuoteSelection resolves a purchasable line. Inactive products are reported
// as not found and variant products require a non-empty selection.
func QuoteSelection(p *catalog.Product, ids []uuid.UUID) (*Quote, error) {
	if !p.IsActive {
		return nil, apperr.NotFound("product", p.ID)
	}
	if p.UsesVariants() && len(ids) == 0 {
		return nil, &apperr.InvalidSelectionError{ProductID: p.ID, Reason: "variant selection required"}
	}

	selected, err := SelectVariants(p, ids)
	if err != nil {
		return nil, err
	}

	available := p.BaseStock
	if len(selected) > 0 {
		if available, err = selectionStock(p, selected); err != nil {
			return nil, err
		}
	}

	return &Quote{
		Product:   p,
		Variants:  selected,
		UnitPrice: UnitPrice(p, selected),
		Available: available,
	}, nil
}

// selectionStock is the minimum stock across the selected variants. A
// multi-attribute selection is limited by its scarcest dimension.
func selectionStock(p *catalog.Product, selected []catalog.Variant) (int, error) {
	minStock := -1
	for _, v := range selected {
		if !v.IsAvailable {
			return 0, &apperr.InvalidSelectionError{ProductID: p.ID, VariantID: v.ID, Reason: "is not available"}
		}
		if minStock < 0 || v.Stock < minStock {
			minStock = v.Stock
		}
	}
	if minStock < 0 {
		return 0, nil
	}
	return minStock, nil
}
