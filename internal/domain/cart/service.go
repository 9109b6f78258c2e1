package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/txn"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Tx is the repository set a cart operation works with inside one unit of
// work.
type Tx interface {
	Catalog() catalog.Repository
	Users() user.Repository
	Carts() Repository
}

// AddRequest holds the input for adding a product to a cart.
type AddRequest struct {
	ProductID  uuid.UUID
	Quantity   int
	VariantIDs []uuid.UUID
}

// Option configures a Service.
type Option func(*Service)

// WithMeterProvider sets the meter provider used for cart mutation counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// Service implements cart mutations. Every operation runs in its own unit of
// work, so a failed call leaves the cart exactly as it was.
type Service struct {
	store         txn.Transactor[Tx]
	meterProvider metric.MeterProvider
	mutations     metric.Int64Counter
}

// NewService creates a cart Service on top of store.
func NewService(store txn.Transactor[Tx], opts ...Option) (*Service, error) {
	s := &Service{
		store:         store,
		meterProvider: noop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	meter := s.meterProvider.Meter("github.com/xenking/kart-checkout/internal/domain/cart")
	mutations, err := meter.Int64Counter("kart.cart.mutations",
		metric.WithDescription("Committed cart mutations by operation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create mutations counter")
	}
	s.mutations = mutations

	return s, nil
}

// GetOrCreate returns the cart of userID, creating an empty one on first
// access.
func (s *Service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	var out *Cart
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := loadOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("get cart", err)
	}
	return out, nil
}

// AddProduct adds quantity units of a product selection to the cart of userID.
// A line with the same product and variant set is merged and keeps its
// original unit price.
func (s *Service) AddProduct(ctx context.Context, userID uuid.UUID, req AddRequest) (*Cart, error) {
	if req.Quantity < 1 {
		return nil, &apperr.InvalidQuantityError{Quantity: req.Quantity}
	}

	var out *Cart
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := loadOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}

		p, err := tx.Catalog().GetProduct(ctx, req.ProductID)
		if err != nil {
			return errors.Wrap(err, "get product")
		}
		q, err := pricing.QuoteSelection(p, req.VariantIDs)
		if err != nil {
			return err
		}

		line, merge := c.Line(p.ID, catalog.NewSelection(req.VariantIDs))
		requested := req.Quantity
		if merge {
			requested += line.Quantity
		}
		if q.Available < requested {
			return &apperr.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   q.Available,
				Requested:   requested,
			}
		}

		if merge {
			line.SetQuantity(requested)
		} else {
			c.Items = append(c.Items, newItem(c.ID, q, req.Quantity))
		}
		c.Recalculate()

		if err := tx.Carts().Save(ctx, c); err != nil {
			return errors.Wrap(err, "save cart")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("add product to cart", err)
	}

	s.count(ctx, "add")
	return out, nil
}

// UpdateItemQuantity sets the quantity of one line. Zero removes the line.
// The line keeps its original unit price.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, qty int) (*Cart, error) {
	if qty < 0 {
		return nil, &apperr.InvalidQuantityError{Quantity: qty}
	}

	var out *Cart
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.Carts().GetByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "get cart")
		}
		line, ok := c.Item(itemID)
		if !ok {
			return apperr.NotFound("cart item", itemID)
		}

		if qty == 0 {
			c.Remove(itemID)
		} else {
			p, err := tx.Catalog().GetProduct(ctx, line.ProductID)
			if err != nil {
				return errors.Wrap(err, "get product")
			}
			q, err := pricing.QuoteSelection(p, line.Selection().IDs())
			if err != nil {
				return err
			}
			if q.Available < qty {
				return &apperr.InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Available:   q.Available,
					Requested:   qty,
				}
			}
			line.SetQuantity(qty)
			c.Recalculate()
		}

		if err := tx.Carts().Save(ctx, c); err != nil {
			return errors.Wrap(err, "save cart")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("update cart item", err)
	}

	s.count(ctx, "update")
	return out, nil
}

// RemoveItem deletes one line from the cart of userID.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*Cart, error) {
	var out *Cart
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.Carts().GetByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "get cart")
		}
		if !c.Remove(itemID) {
			return apperr.NotFound("cart item", itemID)
		}
		if err := tx.Carts().Save(ctx, c); err != nil {
			return errors.Wrap(err, "save cart")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("remove cart item", err)
	}

	s.count(ctx, "remove")
	return out, nil
}

// Clear empties the cart of userID.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	var out *Cart
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.Carts().GetByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "get cart")
		}
		c.Empty()
		if err := tx.Carts().Save(ctx, c); err != nil {
			return errors.Wrap(err, "save cart")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("clear cart", err)
	}

	s.count(ctx, "clear")
	return out, nil
}

func (s *Service) count(ctx context.Context, op string) {
	s.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// loadOrCreate returns the cart of userID, creating it on first access. The
// user must exist. A cart created concurrently by another unit of work is
// loaded instead of replaced.
func loadOrCreate(ctx context.Context, tx Tx, userID uuid.UUID) (*Cart, error) {
	if _, err := tx.Users().GetByID(ctx, userID); err != nil {
		return nil, errors.Wrap(err, "get user")
	}

	c, err := tx.Carts().GetByUser(ctx, userID)
	switch {
	case err == nil:
		return c, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, errors.Wrap(err, "get cart")
	}

	if err := tx.Carts().Create(ctx, New(userID)); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	c, err = tx.Carts().GetByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get created cart")
	}
	return c, nil
}

func newItem(cartID uuid.UUID, q *pricing.Quote, qty int) Item {
	variants := make([]SelectedVariant, len(q.Variants))
	for i, v := range q.Variants {
		variants[i] = SelectedVariant{ID: v.ID, Type: v.Type, Name: v.Name}
	}
	it := Item{
		ID:              uuid.New(),
		CartID:          cartID,
		ProductID:       q.Product.ID,
		PriceAtAddition: q.UnitPrice,
		Variants:        variants,
		CreatedAt:       time.Now().UTC(),
	}
	it.SetQuantity(qty)
	return it
}
