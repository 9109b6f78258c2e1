package order_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

// --- Mock implementations ---

type recordingPublisher struct {
	mu       sync.Mutex
	created  []uuid.UUID
	statuses []order.Status
	err      error
}

func (p *recordingPublisher) OrderCreated(_ context.Context, o *order.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, o.ID)
	return p.err
}

func (p *recordingPublisher) StatusChanged(_ context.Context, o *order.Order, _ order.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, o.Status)
	return p.err
}

type mockIdempotency struct {
	keys     map[string]uuid.UUID
	released []string
	// completeFailures is the number of Complete calls that fail before one
	// succeeds.
	completeFailures int
	completeCalls    int
}

func (m *mockIdempotency) Acquire(_ context.Context, _ uuid.UUID, key string) (uuid.UUID, bool, error) {
	id, ok := m.keys[key]
	if !ok {
		m.keys[key] = uuid.Nil
		return uuid.Nil, true, nil
	}
	if id == uuid.Nil {
		return uuid.Nil, false, errors.Wrapf(apperr.ErrConflict, "request %q in progress", key)
	}
	return id, false, nil
}

func (m *mockIdempotency) Complete(_ context.Context, _ uuid.UUID, key string, orderID uuid.UUID) error {
	m.completeCalls++
	if m.completeFailures > 0 {
		m.completeFailures--
		return errors.New("redis unavailable")
	}
	m.keys[key] = orderID
	return nil
}

func (m *mockIdempotency) Release(_ context.Context, _ uuid.UUID, key string) error {
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

// failingTx replaces order or cart writes with failures.
type failingTx struct {
	order.Tx
	createErr error
	saveErr   error
}

func (tx failingTx) Orders() order.Repository {
	return failingOrders{Repository: tx.Tx.Orders(), err: tx.createErr}
}

func (tx failingTx) Carts() cart.Repository {
	return failingCarts{Repository: tx.Tx.Carts(), err: tx.saveErr}
}

type failingOrders struct {
	order.Repository
	err error
}

func (r failingOrders) Create(ctx context.Context, o *order.Order) error {
	if r.err != nil {
		return r.err
	}
	return r.Repository.Create(ctx, o)
}

type failingCarts struct {
	cart.Repository
	err error
}

func (r failingCarts) Save(ctx context.Context, c *cart.Cart) error {
	if r.err != nil && len(c.Items) == 0 {
		return r.err
	}
	return r.Repository.Save(ctx, c)
}

// --- Fixtures ---

type fixture struct {
	store  *memory.Store
	carts  *cart.Service
	orders *order.Service
	pub    *recordingPublisher
	alice  uuid.UUID
	bob    uuid.UUID
	phone  catalog.Product
	cable  catalog.Product
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func orderTx(tx *memory.Tx) order.Tx { return tx }

func newFixture(t *testing.T, opts ...order.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	phoneID := uuid.New()
	variant := func(typ catalog.VariantType, name, modifier string, stock int) catalog.Variant {
		return catalog.Variant{
			ID:            uuid.New(),
			ProductID:     phoneID,
			Type:          typ,
			Name:          name,
			PriceModifier: dec(modifier),
			Stock:         stock,
			IsAvailable:   true,
		}
	}
	f := &fixture{
		store: memory.New(),
		pub:   &recordingPublisher{},
		alice: uuid.New(),
		bob:   uuid.New(),
		phone: catalog.Product{
			ID:          phoneID,
			Name:        "iPhone 15",
			Description: "A16 Bionic",
			BasePrice:   dec("799.99"),
			HasVariants: true,
			IsActive:    true,
			Variants: []catalog.Variant{
				variant(catalog.VariantStorage, "128GB", "0", 10),
				variant(catalog.VariantStorage, "256GB", "100", 10),
				variant(catalog.VariantColor, "Black", "0", 3),
			},
		},
		cable: catalog.Product{
			ID:        uuid.New(),
			Name:      "USB-C Cable",
			BasePrice: dec("19.99"),
			BaseStock: 5,
			IsActive:  true,
		},
	}
	require.NoError(t, f.store.Seed(ctx,
		[]catalog.Product{f.phone, f.cable},
		[]user.User{
			{ID: f.alice, Name: "Alice", Email: "alice@example.com"},
			{ID: f.bob, Name: "Bob", Email: "bob@example.com"},
		},
	))

	carts, err := cart.NewService(memory.Transactor(f.store, func(tx *memory.Tx) cart.Tx { return tx }))
	require.NoError(t, err)
	f.carts = carts

	opts = append([]order.Option{order.WithPublisher(f.pub)}, opts...)
	orders, err := order.NewService(memory.Transactor(f.store, orderTx), order.Policy{
		Tax:      dec("10"),
		Shipping: dec("5.5"),
	}, opts...)
	require.NoError(t, err)
	f.orders = orders
	return f
}

func (f *fixture) variant(name string) uuid.UUID {
	for _, v := range f.phone.Variants {
		if v.Name == name {
			return v.ID
		}
	}
	panic("unknown variant " + name)
}

func (f *fixture) add(t *testing.T, userID, productID uuid.UUID, qty int, variants ...uuid.UUID) *cart.Cart {
	t.Helper()
	c, err := f.carts.AddProduct(context.Background(), userID, cart.AddRequest{
		ProductID:  productID,
		Quantity:   qty,
		VariantIDs: variants,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) product(t *testing.T, id uuid.UUID) *catalog.Product {
	t.Helper()
	p, err := f.store.Catalog().GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func stockOf(p *catalog.Product, variantID uuid.UUID) int {
	v, _ := p.Variant(variantID)
	return v.Stock
}

// --- Tests ---

func TestCreateFromCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, f.alice, f.phone.ID, 2, f.variant("256GB"), f.variant("Black"))
	f.add(t, f.alice, f.cable.ID, 3)

	o, err := f.orders.CreateFromCart(ctx, f.alice)
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, f.alice, o.UserID)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{16}$`, o.Number)
	require.Len(t, o.Detail.Items, 2)

	phoneLine := o.Detail.Items[0]
	assert.Equal(t, 2, phoneLine.Quantity)
	assert.True(t, dec("899.99").Equal(phoneLine.UnitPrice))
	assert.True(t, dec("1799.98").Equal(phoneLine.Subtotal))
	assert.Equal(t, "iPhone 15", phoneLine.Product.Name)
	assert.Equal(t, "A16 Bionic", phoneLine.Product.Description)
	assert.True(t, dec("799.99").Equal(phoneLine.Product.BasePrice))
	require.Len(t, phoneLine.Variants, 2)
	assert.Equal(t, catalog.VariantStorage, phoneLine.Variants[0].Type)
	assert.True(t, dec("100").Equal(phoneLine.Variants[0].PriceModifier))

	assert.True(t, dec("1859.95").Equal(o.Detail.Subtotal), "got %s", o.Detail.Subtotal)
	assert.True(t, dec("10").Equal(o.Detail.Tax))
	assert.True(t, dec("5.5").Equal(o.Detail.Shipping))
	assert.True(t, dec("1875.45").Equal(o.Detail.Total), "got %s", o.Detail.Total)

	phone := f.product(t, f.phone.ID)
	assert.Equal(t, 8, stockOf(phone, f.variant("256GB")))
	assert.Equal(t, 1, stockOf(phone, f.variant("Black")))
	assert.Equal(t, 10, stockOf(phone, f.variant("128GB")))
	assert.Equal(t, 2, f.product(t, f.cable.ID).BaseStock)

	c, err := f.carts.GetOrCreate(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.True(t, c.Total.IsZero())

	assert.Equal(t, []uuid.UUID{o.ID}, f.pub.created)
}

func TestCreateFromCart_EmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orders.CreateFromCart(ctx, f.alice)
	require.ErrorIs(t, err, apperr.ErrEmptyCart, "no cart at all")

	_, err = f.carts.GetOrCreate(ctx, f.alice)
	require.NoError(t, err)
	_, err = f.orders.CreateFromCart(ctx, f.alice)
	require.ErrorIs(t, err, apperr.ErrEmptyCart)

	_, err = f.orders.CreateFromCart(ctx, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.pub.created)
}

func TestCreateFromCart_StockConsumedSinceAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, f.alice, f.cable.ID, 4)
	f.add(t, f.bob, f.cable.ID, 2)
	_, err := f.orders.CreateFromCart(ctx, f.bob)
	require.NoError(t, err)

	_, err = f.orders.CreateFromCart(ctx, f.alice)
	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "USB-C Cable", stockErr.ProductName)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 4, stockErr.Requested)

	c, err := f.carts.GetOrCreate(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assert.Equal(t, 3, f.product(t, f.cable.ID).BaseStock)
}

func TestCreateFromCart_SharedVariantDemand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two lines draw from the same color stock of 3.
	f.add(t, f.alice, f.phone.ID, 2, f.variant("128GB"), f.variant("Black"))
	f.add(t, f.alice, f.phone.ID, 2, f.variant("256GB"), f.variant("Black"))

	_, err := f.orders.CreateFromCart(ctx, f.alice)
	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 4, stockErr.Requested)

	phone := f.product(t, f.phone.ID)
	assert.Equal(t, 3, stockOf(phone, f.variant("Black")))
	assert.Equal(t, 10, stockOf(phone, f.variant("128GB")))
}

func TestCreateFromCart_CatalogChangedUnderCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, f.alice, f.cable.ID, 1)

	hidden := *f.product(t, f.cable.ID)
	hidden.IsActive = false
	require.NoError(t, f.store.Catalog().UpsertProduct(ctx, &hidden))

	_, err := f.orders.CreateFromCart(ctx, f.alice)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateFromCart_RollsBackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		tx   func(tx *memory.Tx) order.Tx
	}{
		{
			name: "order insert fails",
			tx: func(tx *memory.Tx) order.Tx {
				return failingTx{Tx: tx, createErr: errors.New("unique violation")}
			},
		},
		{
			name: "cart clear fails",
			tx: func(tx *memory.Tx) order.Tx {
				return failingTx{Tx: tx, saveErr: errors.New("connection lost")}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			before := f.add(t, f.alice, f.phone.ID, 1, f.variant("256GB"), f.variant("Black"))

			broken, err := order.NewService(memory.Transactor(f.store, tt.tx), order.Policy{})
			require.NoError(t, err)

			_, err = broken.CreateFromCart(ctx, f.alice)
			var sysErr *apperr.SystemError
			require.ErrorAs(t, err, &sysErr)
			assert.Equal(t, "create order", sysErr.Op)

			after, err := f.carts.GetOrCreate(ctx, f.alice)
			require.NoError(t, err)
			assert.Equal(t, before.Items, after.Items)
			assert.True(t, before.Total.Equal(after.Total))

			phone := f.product(t, f.phone.ID)
			assert.Equal(t, 10, stockOf(phone, f.variant("256GB")))
			assert.Equal(t, 3, stockOf(phone, f.variant("Black")))

			orders, err := f.orders.ListByUser(ctx, f.alice)
			require.NoError(t, err)
			assert.Empty(t, orders)
		})
	}
}

func TestCreateFromCart_NoOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, f.alice, f.cable.ID, 3)
	f.add(t, f.bob, f.cable.ID, 3)

	var (
		committed atomic.Int32
		rejected  atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range []uuid.UUID{f.alice, f.bob} {
		g.Go(func() error {
			_, err := f.orders.CreateFromCart(gctx, userID)
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, apperr.ErrInsufficientStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, int32(1), rejected.Load())
	assert.Equal(t, 2, f.product(t, f.cable.ID).BaseStock)
}

func TestCreateFromCart_ManyShoppersOneVariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const shoppers = 8
	black := f.variant("Black")
	users := make([]user.User, shoppers)
	for i := range users {
		users[i] = user.User{ID: uuid.New(), Name: "shopper"}
	}
	require.NoError(t, f.store.Seed(ctx, nil, users))
	for _, u := range users {
		f.add(t, u.ID, f.phone.ID, 1, f.variant("128GB"), black)
	}

	var committed atomic.Int32
	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			_, err := f.orders.CreateFromCart(ctx, u.ID)
			if err == nil {
				committed.Add(1)
				return nil
			}
			if errors.Is(err, apperr.ErrInsufficientStock) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), committed.Load())
	phone := f.product(t, f.phone.ID)
	assert.Equal(t, 0, stockOf(phone, black))
	assert.Equal(t, 7, stockOf(phone, f.variant("128GB")))
}

func TestGet_SnapshotImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, f.alice, f.phone.ID, 1, f.variant("256GB"))
	o, err := f.orders.CreateFromCart(ctx, f.alice)
	require.NoError(t, err)

	edited := *f.product(t, f.phone.ID)
	edited.Name = "iPhone 15 (renamed)"
	edited.BasePrice = dec("1.00")
	for i := range edited.Variants {
		edited.Variants[i].PriceModifier = dec("999")
		edited.Variants[i].Name += " (old)"
	}
	require.NoError(t, f.store.Catalog().UpsertProduct(ctx, &edited))

	v, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", v.User.Name)
	assert.Equal(t, "alice@example.com", v.User.Email)

	item := v.Order.Detail.Items[0]
	assert.Equal(t, "iPhone 15", item.Product.Name)
	assert.True(t, dec("799.99").Equal(item.Product.BasePrice))
	assert.True(t, dec("899.99").Equal(item.UnitPrice))
	require.Len(t, item.Variants, 1)
	assert.Equal(t, "256GB", item.Variants[0].Name)
	assert.True(t, dec("100").Equal(item.Variants[0].PriceModifier))

	_, err = f.orders.Get(ctx, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListByUser(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, order.WithClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))
	ctx := context.Background()

	f.add(t, f.alice, f.cable.ID, 1)
	first, err := f.orders.CreateFromCart(ctx, f.alice)
	require.NoError(t, err)
	f.add(t, f.alice, f.cable.ID, 1)
	second, err := f.orders.CreateFromCart(ctx, f.alice)
	require.NoError(t, err)
	assert.Contains(t, second.Number, "ORD-20240315-")

	orders, err := f.orders.ListByUser(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)

	orders, err = f.orders.ListByUser(ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = f.orders.ListByUser(ctx, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, f.alice, f.cable.ID, 1)
	o, err := f.orders.CreateFromCart(ctx, f.alice)
	require.NoError(t, err)

	updated, err := f.orders.UpdateStatus(ctx, o.ID, "delivered")
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, updated.Status)

	// No adjacency rules: delivered may go back to pending.
	updated, err = f.orders.UpdateStatus(ctx, o.ID, "pending")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, updated.Status)

	_, err = f.orders.UpdateStatus(ctx, o.ID, "lost")
	var trErr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, "lost", trErr.Status)

	_, err = f.orders.UpdateStatus(ctx, uuid.New(), "paid")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	v, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, v.Order.Status)
	assert.Equal(t, []order.Status{order.StatusDelivered, order.StatusPending}, f.pub.statuses)
}

func TestPublisherFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	f.add(t, f.alice, f.cable.ID, 1)

	o, err := f.orders.CreateFromCart(context.Background(), f.alice)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{o.ID}, f.pub.created)
}

func TestCreateFromCartOnce(t *testing.T) {
	idem := &mockIdempotency{keys: map[string]uuid.UUID{}}
	f := newFixture(t, order.WithIdempotencyStore(idem))
	ctx := context.Background()

	_, err := f.orders.CreateFromCartOnce(ctx, f.alice, "k-1")
	require.ErrorIs(t, err, apperr.ErrEmptyCart)
	assert.Equal(t, []string{"k-1"}, idem.released)

	f.add(t, f.alice, f.cable.ID, 2)
	first, err := f.orders.CreateFromCartOnce(ctx, f.alice, "k-1")
	require.NoError(t, err)

	replay, err := f.orders.CreateFromCartOnce(ctx, f.alice, "k-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 3, f.product(t, f.cable.ID).BaseStock)

	idem.keys["k-2"] = uuid.Nil
	_, err = f.orders.CreateFromCartOnce(ctx, f.alice, "k-2")
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateFromCartOnce_RetriesComplete(t *testing.T) {
	idem := &mockIdempotency{keys: map[string]uuid.UUID{}, completeFailures: 2}
	f := newFixture(t, order.WithIdempotencyStore(idem))
	ctx := context.Background()

	f.add(t, f.alice, f.cable.ID, 1)
	o, err := f.orders.CreateFromCartOnce(ctx, f.alice, "k-1")
	require.NoError(t, err)
	assert.Equal(t, 3, idem.completeCalls)
	assert.Equal(t, o.ID, idem.keys["k-1"])

	replay, err := f.orders.CreateFromCartOnce(ctx, f.alice, "k-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, replay.ID)
}

func TestParseStatus(t *testing.T) {
	for _, st := range order.Statuses {
		got, err := order.ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := order.ParseStatus("Pending")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
}
