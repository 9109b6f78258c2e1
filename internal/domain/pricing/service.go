package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// Service answers price and stock questions about live catalog state.
type Service struct {
	products catalog.Reader
}

// NewService creates a pricing Service reading from products.
func NewService(products catalog.Reader) *Service {
	return &Service{products: products}
}

// CalculatePrice returns the unit price of a product for the given variant
// selection.
func (s *Service) CalculatePrice(ctx context.Context, productID uuid.UUID, variantIDs []uuid.UUID) (decimal.Decimal, error) {
	p, err := s.load(ctx, productID)
	if err != nil {
		return decimal.Zero, apperr.Classify("calculate price", err)
	}
	return CalculatePrice(p, variantIDs)
}

// AvailableStock returns the stock figure of a product for the given variant
// selection.
func (s *Service) AvailableStock(ctx context.Context, productID uuid.UUID, variantIDs []uuid.UUID) (int, error) {
	p, err := s.load(ctx, productID)
	if err != nil {
		return 0, apperr.Classify("available stock", err)
	}
	return AvailableStock(p, variantIDs)
}

// Product returns an active product with its variants.
func (s *Service) Product(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, apperr.Classify("get product", err)
	}
	return p, nil
}

// Products returns the products among ids keyed by id, inactive ones
// included. Missing ids are skipped.
func (s *Service) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*catalog.Product, error) {
	list, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, apperr.Classify("get products", errors.Wrap(err, "get products"))
	}
	out := make(map[uuid.UUID]*catalog.Product, len(list))
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if !p.IsActive {
		return nil, apperr.NotFound("product", id)
	}
	return p, nil
}
