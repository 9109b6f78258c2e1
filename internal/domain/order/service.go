package order

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/txn"
)

const instrumentationName = "github.com/xenking/kart-checkout/internal/domain/order"

const (
	completeRetries    = 3
	completeRetryDelay = 50 * time.Millisecond
)

// Tx is the repository set order operations work with inside one unit of
// work.
type Tx interface {
	cart.Tx
	Orders() Repository
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider for materialization spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithPublisher sets the publisher notified after orders are committed.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithIdempotencyStore enables request keys for CreateFromCartOnce.
func WithIdempotencyStore(st IdempotencyStore) Option {
	return func(s *Service) { s.idempotency = st }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service materializes carts into orders and serves order reads and status
// updates.
type Service struct {
	store       txn.Transactor[Tx]
	policy      Policy
	publisher   Publisher
	idempotency IdempotencyStore
	now         func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	materialized   metric.Int64Counter
	statusChanges  metric.Int64Counter
}

// NewService creates an order Service. policy supplies the flat tax and
// shipping charged on every order.
func NewService(store txn.Transactor[Tx], policy Policy, opts ...Option) (*Service, error) {
	s := &Service{
		store:          store,
		policy:         policy,
		publisher:      nopPublisher{},
		now:            time.Now,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.materialized, err = meter.Int64Counter("kart.orders.materialized",
		metric.WithDescription("Cart to order materialization attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "create materialized counter")
	}
	if s.statusChanges, err = meter.Int64Counter("kart.orders.status_changes",
		metric.WithDescription("Order status updates"),
	); err != nil {
		return nil, errors.Wrap(err, "create status counter")
	}

	return s, nil
}

// Get returns an order with its owner's public profile.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	var out *View
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.Orders().GetByID(ctx, id)
		if err != nil {
			return errors.Wrap(err, "get order")
		}
		u, err := tx.Users().GetByID(ctx, o.UserID)
		if err != nil {
			return errors.Wrap(err, "get owner")
		}
		out = &View{Order: o, User: u.Profile()}
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("get order", err)
	}
	return out, nil
}

// ListByUser returns the orders of userID, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	var out []Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return errors.Wrap(err, "get user")
		}
		orders, err := tx.Orders().ListByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "list orders")
		}
		out = orders
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("list orders", err)
	}
	return out, nil
}

// UpdateStatus overwrites the status of an order. Any defined status is
// accepted regardless of the current one.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Order, error) {
	next, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	var (
		out      *Order
		previous Status
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.Orders().GetByID(ctx, id)
		if err != nil {
			return errors.Wrap(err, "get order")
		}
		previous = o.Status
		o.Status = next
		o.UpdatedAt = s.now().UTC()
		if err := tx.Orders().UpdateStatus(ctx, id, next, o.UpdatedAt); err != nil {
			return errors.Wrap(err, "update status")
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, apperr.Classify("update order status", err)
	}

	s.statusChanges.Add(ctx, 1, metric.WithAttributes(statusAttr(next)))
	zctx.From(ctx).Info("Order status changed",
		zap.Stringer("order_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)
	if err := s.publisher.StatusChanged(ctx, out, previous); err != nil {
		zctx.From(ctx).Warn("Publish status change failed", zap.Stringer("order_id", id), zap.Error(err))
	}
	return out, nil
}

// CreateFromCartOnce is CreateFromCart guarded by a client supplied request
// key. Repeating a key returns the order the first request created. An empty
// key, or a Service without an idempotency store, behaves like
// CreateFromCart.
func (s *Service) CreateFromCartOnce(ctx context.Context, userID uuid.UUID, key string) (*Order, error) {
	if key == "" || s.idempotency == nil {
		return s.CreateFromCart(ctx, userID)
	}
	lg := zctx.From(ctx).With(zap.Stringer("user_id", userID), zap.String("idempotency_key", key))

	orderID, acquired, err := s.idempotency.Acquire(ctx, userID, key)
	if err != nil {
		return nil, apperr.Classify("acquire request key", err)
	}
	if !acquired {
		lg.Info("Replaying order for repeated request key", zap.Stringer("order_id", orderID))
		v, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return v.Order, nil
	}

	o, err := s.CreateFromCart(ctx, userID)
	if err != nil {
		if rerr := s.idempotency.Release(ctx, userID, key); rerr != nil {
			lg.Warn("Release request key failed", zap.Error(rerr))
		}
		return nil, err
	}
	if err := s.complete(ctx, userID, key, o.ID); err != nil {
		lg.Warn("Complete request key failed", zap.Stringer("order_id", o.ID), zap.Error(err))
	}
	return o, nil
}

// complete records orderID for key, retrying briefly. The order is already
// committed, so a cancelled request context does not stop the attempts.
func (s *Service) complete(ctx context.Context, userID uuid.UUID, key string, orderID uuid.UUID) error {
	ctx = context.WithoutCancel(ctx)
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(completeRetryDelay), completeRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		return s.idempotency.Complete(ctx, userID, key, orderID)
	}, b)
}
