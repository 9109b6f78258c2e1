package cart_test

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

// --- Fixtures ---

type fixture struct {
	store  *memory.Store
	svc    *cart.Service
	userID uuid.UUID
	phone  catalog.Product
	cable  catalog.Product
}

func (f *fixture) variant(typ catalog.VariantType, name string) uuid.UUID {
	for _, v := range f.phone.Variants {
		if v.Type == typ && v.Name == name {
			return v.ID
		}
	}
	panic("unknown variant " + name)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	phoneID := uuid.New()
	variant := func(typ catalog.VariantType, name, modifier string, stock int) catalog.Variant {
		return catalog.Variant{
			ID:            uuid.New(),
			ProductID:     phoneID,
			Type:          typ,
			Name:          name,
			PriceModifier: decimal.RequireFromString(modifier),
			Stock:         stock,
			IsAvailable:   true,
		}
	}
	f := &fixture{
		store:  memory.New(),
		userID: uuid.New(),
		phone: catalog.Product{
			ID:          phoneID,
			Name:        "iPhone 15",
			BasePrice:   decimal.RequireFromString("799.99"),
			HasVariants: true,
			IsActive:    true,
			Variants: []catalog.Variant{
				variant(catalog.VariantStorage, "128GB", "0", 10),
				variant(catalog.VariantStorage, "256GB", "100", 1),
				variant(catalog.VariantColor, "Black", "0", 10),
				variant(catalog.VariantColor, "Blue", "0", 10),
			},
		},
		cable: catalog.Product{
			ID:        uuid.New(),
			Name:      "USB-C Cable",
			BasePrice: decimal.RequireFromString("19.99"),
			BaseStock: 5,
			IsActive:  true,
		},
	}
	require.NoError(t, f.store.Seed(ctx,
		[]catalog.Product{f.phone, f.cable},
		[]user.User{{ID: f.userID, Name: "Ada", Email: "ada@example.com"}},
	))

	svc, err := cart.NewService(memory.Transactor(f.store, func(tx *memory.Tx) cart.Tx { return tx }))
	require.NoError(t, err)
	f.svc = svc
	return f
}

// failingTx makes cart writes fail after the rest of the unit of work ran.
type failingTx struct {
	cart.Tx
	err error
}

func (tx failingTx) Carts() cart.Repository { return failingCarts{Repository: tx.Tx.Carts(), err: tx.err} }

type failingCarts struct {
	cart.Repository
	err error
}

func (r failingCarts) Save(context.Context, *cart.Cart) error { return r.err }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- Tests ---

func TestGetOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.True(t, c.Total.IsZero())

	again, err := f.svc.GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)

	_, err = f.svc.GetOrCreate(ctx, uuid.New())
	var nfErr *apperr.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "user", nfErr.Entity)
}

func TestAddProduct_MergeKeepsFirstPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sel := []uuid.UUID{f.variant(catalog.VariantStorage, "128GB"), f.variant(catalog.VariantColor, "Black")}

	_, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.phone.ID, Quantity: 2, VariantIDs: sel})
	require.NoError(t, err)

	// Re-price the product between the two adds.
	repriced := f.phone
	repriced.BasePrice = dec("899.99")
	require.NoError(t, f.store.Catalog().UpsertProduct(ctx, &repriced))

	reversed := []uuid.UUID{sel[1], sel[0]}
	c, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.phone.ID, Quantity: 3, VariantIDs: reversed})
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	item := c.Items[0]
	assert.Equal(t, 5, item.Quantity)
	assert.True(t, dec("799.99").Equal(item.PriceAtAddition), "got %s", item.PriceAtAddition)
	assert.True(t, dec("3999.95").Equal(item.Subtotal), "got %s", item.Subtotal)
	assert.True(t, dec("3999.95").Equal(c.Total))
	assert.Equal(t, 5, c.ItemCount())
}

func TestAddProduct_DistinctSelectionsAreSeparateLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{
		ProductID:  f.phone.ID,
		Quantity:   1,
		VariantIDs: []uuid.UUID{f.variant(catalog.VariantStorage, "256GB"), f.variant(catalog.VariantColor, "Black")},
	})
	require.NoError(t, err)
	_, err = f.svc.AddProduct(ctx, f.userID, cart.AddRequest{
		ProductID:  f.phone.ID,
		Quantity:   1,
		VariantIDs: []uuid.UUID{f.variant(catalog.VariantStorage, "128GB"), f.variant(catalog.VariantColor, "Black")},
	})
	require.NoError(t, err)
	c, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.cable.ID, Quantity: 2})
	require.NoError(t, err)

	require.Len(t, c.Items, 3)
	assert.True(t, dec("899.99").Equal(c.Items[0].PriceAtAddition))
	assert.True(t, dec("799.99").Equal(c.Items[1].PriceAtAddition))
	assert.True(t, dec("1739.96").Equal(c.Total), "got %s", c.Total)
	assert.Equal(t, 4, c.ItemCount())
}

func TestAddProduct_InsufficientStockLeavesCartUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.cable.ID, Quantity: 3})
	require.NoError(t, err)

	_, err = f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.cable.ID, Quantity: 3})
	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, f.cable.ID, stockErr.ProductID)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 6, stockErr.Requested)

	after, err := f.svc.GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, before.Items, after.Items)
	assert.True(t, before.Total.Equal(after.Total))
}

func TestAddProduct_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hidden := f.cable
	hidden.ID = uuid.New()
	hidden.IsActive = false
	require.NoError(t, f.store.Catalog().UpsertProduct(ctx, &hidden))

	tests := []struct {
		name string
		req  cart.AddRequest
		kind error
	}{
		{
			name: "zero quantity",
			req:  cart.AddRequest{ProductID: f.cable.ID, Quantity: 0},
			kind: apperr.ErrInvalidQuantity,
		},
		{
			name: "unknown product",
			req:  cart.AddRequest{ProductID: uuid.New(), Quantity: 1},
			kind: apperr.ErrNotFound,
		},
		{
			name: "inactive product",
			req:  cart.AddRequest{ProductID: hidden.ID, Quantity: 1},
			kind: apperr.ErrNotFound,
		},
		{
			name: "duplicate variant type",
			req: cart.AddRequest{ProductID: f.phone.ID, Quantity: 1, VariantIDs: []uuid.UUID{
				f.variant(catalog.VariantColor, "Black"), f.variant(catalog.VariantColor, "Blue"),
			}},
			kind: apperr.ErrInvalidSelection,
		},
		{
			name: "variant product without selection",
			req:  cart.AddRequest{ProductID: f.phone.ID, Quantity: 1},
			kind: apperr.ErrInvalidSelection,
		},
		{
			name: "variant of another product",
			req:  cart.AddRequest{ProductID: f.cable.ID, Quantity: 1, VariantIDs: []uuid.UUID{f.variant(catalog.VariantColor, "Black")}},
			kind: apperr.ErrInvalidSelection,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddProduct(ctx, f.userID, tt.req)
			require.ErrorIs(t, err, tt.kind)
		})
	}

	_, err := f.svc.AddProduct(ctx, uuid.New(), cart.AddRequest{ProductID: f.cable.ID, Quantity: 1})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAddProduct_SaveFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.cable.ID, Quantity: 1})
	require.NoError(t, err)

	broken, err := cart.NewService(memory.Transactor(f.store, func(tx *memory.Tx) cart.Tx {
		return failingTx{Tx: tx, err: errors.New("disk full")}
	}))
	require.NoError(t, err)

	_, err = broken.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.cable.ID, Quantity: 1})
	var sysErr *apperr.SystemError
	require.ErrorAs(t, err, &sysErr)
	assert.Equal(t, "add product to cart", sysErr.Op)
	assert.NotContains(t, err.Error(), "disk full")

	c, err := f.svc.GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 1, c.Items[0].Quantity)
}

func TestUpdateItemQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{
		ProductID:  f.phone.ID,
		Quantity:   1,
		VariantIDs: []uuid.UUID{f.variant(catalog.VariantStorage, "256GB")},
	})
	require.NoError(t, err)
	itemID := c.Items[0].ID

	t.Run("beyond scarce variant stock", func(t *testing.T) {
		_, err := f.svc.UpdateItemQuantity(ctx, f.userID, itemID, 2)
		var stockErr *apperr.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 1, stockErr.Available)
		assert.Equal(t, 2, stockErr.Requested)

		c, err := f.svc.GetOrCreate(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Items[0].Quantity)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := f.svc.UpdateItemQuantity(ctx, f.userID, uuid.New(), 1)
		var nfErr *apperr.NotFoundError
		require.ErrorAs(t, err, &nfErr)
		assert.Equal(t, "cart item", nfErr.Entity)
	})

	t.Run("user without cart", func(t *testing.T) {
		_, err := f.svc.UpdateItemQuantity(ctx, uuid.New(), itemID, 1)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("negative quantity", func(t *testing.T) {
		_, err := f.svc.UpdateItemQuantity(ctx, f.userID, itemID, -1)
		require.ErrorIs(t, err, apperr.ErrInvalidQuantity)
	})

	t.Run("zero removes the line", func(t *testing.T) {
		c, err := f.svc.UpdateItemQuantity(ctx, f.userID, itemID, 0)
		require.NoError(t, err)
		assert.Empty(t, c.Items)
		assert.True(t, c.Total.IsZero())
	})
}

func TestUpdateItemQuantity_KeepsPriceAtAddition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.cable.ID, Quantity: 1})
	require.NoError(t, err)

	repriced := f.cable
	repriced.BasePrice = dec("24.99")
	require.NoError(t, f.store.Catalog().UpsertProduct(ctx, &repriced))

	c, err = f.svc.UpdateItemQuantity(ctx, f.userID, c.Items[0].ID, 4)
	require.NoError(t, err)
	assert.True(t, dec("79.96").Equal(c.Items[0].Subtotal), "got %s", c.Items[0].Subtotal)
	assert.True(t, dec("79.96").Equal(c.Total))
}

func TestRemoveItemAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Clear(ctx, f.userID)
	require.ErrorIs(t, err, apperr.ErrNotFound, "no cart yet")

	_, err = f.svc.AddProduct(ctx, f.userID, cart.AddRequest{ProductID: f.cable.ID, Quantity: 2})
	require.NoError(t, err)
	c, err := f.svc.AddProduct(ctx, f.userID, cart.AddRequest{
		ProductID:  f.phone.ID,
		Quantity:   1,
		VariantIDs: []uuid.UUID{f.variant(catalog.VariantColor, "Blue")},
	})
	require.NoError(t, err)
	require.Len(t, c.Items, 2)

	c, err = f.svc.RemoveItem(ctx, f.userID, c.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.True(t, dec("799.99").Equal(c.Total))

	_, err = f.svc.RemoveItem(ctx, f.userID, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)

	c, err = f.svc.Clear(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.True(t, c.Total.IsZero())
	assert.Equal(t, 0, c.ItemCount())
}
