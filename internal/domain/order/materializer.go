package order

import (
	"bytes"
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Phase is a step of one materialization attempt.
type Phase string

// Materialization phases, in order. PhaseRolledBack is reachable from every
// phase before PhaseCommitted.
const (
	PhaseStarted       Phase = "started"
	PhaseValidated     Phase = "validated"
	PhaseStockReserved Phase = "stock_reserved"
	PhaseSnapshotted   Phase = "snapshotted"
	PhaseCommitted     Phase = "committed"
	PhaseRolledBack    Phase = "rolled_back"
)

// line is a cart item re-quoted against the catalog state inside the
// transaction.
type line struct {
	item  cart.Item
	quote *pricing.Quote
}

// stockRow identifies one decrementable stock counter: a variant's stock, or
// the base stock of a product without variants.
type stockRow struct {
	id      uuid.UUID
	variant bool
}

// demand is the quantity the cart needs from one stock row.
type demand struct {
	row       stockRow
	product   *catalog.Product
	available int
	qty       int
}

// CreateFromCart converts the cart of userID into a pending order. Stock
// is re-validated and decremented, lines are snapshotted, the order is stored
// and the cart is emptied in a single unit of work. Any failure leaves cart
// and catalog unchanged.
func (s *Service) CreateFromCart(ctx context.Context, userID uuid.UUID) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateFromCart",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	phase := PhaseStarted
	advance := func(p Phase) {
		phase = p
		span.AddEvent(string(p))
	}

	var created *Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "get user")
		}
		c, err := tx.Carts().GetByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return errors.Wrapf(apperr.ErrEmptyCart, "user %s", userID)
			}
			return errors.Wrap(err, "get cart")
		}
		if len(c.Items) == 0 {
			return errors.Wrapf(apperr.ErrEmptyCart, "user %s", userID)
		}

		lines, demands, err := validate(ctx, tx.Catalog(), c)
		if err != nil {
			return err
		}
		advance(PhaseValidated)

		if err := reserve(ctx, tx.Catalog(), demands); err != nil {
			return err
		}
		advance(PhaseStockReserved)

		o := s.snapshot(u, lines)
		advance(PhaseSnapshotted)

		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		c.Empty()
		if err := tx.Carts().Save(ctx, c); err != nil {
			return errors.Wrap(err, "empty cart")
		}

		created = o
		return nil
	})
	if err != nil {
		err = apperr.Classify("create order", err)
		span.SetAttributes(attribute.String("order.failed_after", string(phase)))
		advance(PhaseRolledBack)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.materialized.Add(ctx, 1, metric.WithAttributes(outcomeAttr(err)))

		lg := zctx.From(ctx)
		fields := []zap.Field{
			zap.Stringer("user_id", userID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		}
		if errors.Is(err, apperr.ErrSystem) {
			lg.Error("Order materialization rolled back", fields...)
		} else {
			lg.Info("Order materialization rejected", fields...)
		}
		return nil, err
	}
	advance(PhaseCommitted)
	span.SetAttributes(attribute.String("order.id", created.ID.String()))
	s.materialized.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "committed")))

	zctx.From(ctx).Info("Order created",
		zap.Stringer("order_id", created.ID),
		zap.String("number", created.Number),
		zap.Stringer("user_id", userID),
		zap.Int("items", len(created.Detail.Items)),
		zap.String("total", created.Detail.Total.StringFixed(2)),
	)
	if err := s.publisher.OrderCreated(ctx, created); err != nil {
		zctx.From(ctx).Warn("Publish order created failed", zap.Stringer("order_id", created.ID), zap.Error(err))
	}
	return created, nil
}

// validate re-quotes every cart line against fresh catalog state and checks
// the aggregated demand on each stock row against what it holds.
func validate(ctx context.Context, products catalog.Reader, c *cart.Cart) ([]line, []demand, error) {
	lines := make([]line, 0, len(c.Items))
	byRow := make(map[stockRow]*demand)
	var rows []stockRow

	for _, it := range c.Items {
		p, err := products.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, nil, errors.Wrap(err, "get product")
		}
		q, err := pricing.QuoteSelection(p, it.Selection().IDs())
		if err != nil {
			return nil, nil, err
		}
		if q.Available < it.Quantity {
			return nil, nil, &apperr.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   q.Available,
				Requested:   it.Quantity,
			}
		}
		lines = append(lines, line{item: it, quote: q})

		for _, r := range rowsFor(q) {
			d, ok := byRow[r.row]
			if !ok {
				d = &demand{row: r.row, product: p, available: r.available}
				byRow[r.row] = d
				rows = append(rows, r.row)
			}
			d.qty += it.Quantity
		}
	}

	demands := make([]demand, 0, len(rows))
	for _, row := range rows {
		d := byRow[row]
		if d.available < d.qty {
			return nil, nil, &apperr.InsufficientStockError{
				ProductID:   d.product.ID,
				ProductName: d.product.Name,
				Available:   d.available,
				Requested:   d.qty,
			}
		}
		demands = append(demands, *d)
	}
	return lines, demands, nil
}

type rowStock struct {
	row       stockRow
	available int
}

func rowsFor(q *pricing.Quote) []rowStock {
	if len(q.Variants) == 0 {
		return []rowStock{{row: stockRow{id: q.Product.ID}, available: q.Product.BaseStock}}
	}
	rows := make([]rowStock, len(q.Variants))
	for i, v := range q.Variants {
		rows[i] = rowStock{row: stockRow{id: v.ID, variant: true}, available: v.Stock}
	}
	return rows
}

// reserve applies the guarded decrements in ascending row id order so that
// concurrent materializations lock rows in the same order.
func reserve(ctx context.Context, stock catalog.StockWriter, demands []demand) error {
	sorted := slices.Clone(demands)
	slices.SortFunc(sorted, func(a, b demand) int {
		return bytes.Compare(a.row.id[:], b.row.id[:])
	})

	for _, d := range sorted {
		var err error
		if d.row.variant {
			err = stock.DecrementVariantStock(ctx, d.row.id, d.qty)
		} else {
			err = stock.DecrementProductStock(ctx, d.row.id, d.qty)
		}
		switch {
		case err == nil:
		case errors.Is(err, catalog.ErrStockConflict):
			return &apperr.InsufficientStockError{
				ProductID:   d.product.ID,
				ProductName: d.product.Name,
				Available:   d.available,
				Requested:   d.qty,
			}
		default:
			return errors.Wrapf(err, "decrement stock of %s", d.row.id)
		}
	}
	return nil
}

// snapshot freezes the validated lines into a new pending order.
func (s *Service) snapshot(u *user.User, lines []line) *Order {
	now := s.now().UTC()
	id := uuid.New()

	items := make([]Item, len(lines))
	subtotal := decimal.Zero
	for i, l := range lines {
		p := l.quote.Product
		variants := make([]VariantSnapshot, len(l.quote.Variants))
		for j, v := range l.quote.Variants {
			variants[j] = VariantSnapshot{
				ID:            v.ID,
				Type:          v.Type,
				Name:          v.Name,
				PriceModifier: v.PriceModifier,
			}
		}
		lineTotal := l.item.PriceAtAddition.Mul(decimal.NewFromInt(int64(l.item.Quantity))).Round(2)
		items[i] = Item{
			ID:        uuid.New(),
			ProductID: p.ID,
			Quantity:  l.item.Quantity,
			UnitPrice: l.item.PriceAtAddition,
			Subtotal:  lineTotal,
			Product: ProductSnapshot{
				Name:        p.Name,
				Description: p.Description,
				BasePrice:   p.BasePrice,
			},
			Variants: variants,
		}
		subtotal = subtotal.Add(lineTotal)
	}

	subtotal = subtotal.Round(2)
	tax := s.policy.Tax.Round(2)
	shipping := s.policy.Shipping.Round(2)

	return &Order{
		ID:     id,
		Number: orderNumber(id, now),
		UserID: u.ID,
		Status: StatusPending,
		Detail: Detail{
			ID:       uuid.New(),
			Subtotal: subtotal,
			Tax:      tax,
			Shipping: shipping,
			Total:    subtotal.Add(tax).Add(shipping),
			Items:    items,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
