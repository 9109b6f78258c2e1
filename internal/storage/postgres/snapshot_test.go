package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

func TestSelectionDocument(t *testing.T) {
	in := []cart.SelectedVariant{
		{ID: uuid.New(), Type: catalog.VariantStorage, Name: "256GB"},
		{ID: uuid.New(), Type: catalog.VariantColor, Name: `Space "Gray"`},
	}

	out, err := decodeSelection(encodeSelection(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty, err := decodeSelection(encodeSelection(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func TestDecodeSelection_UnknownFieldsIgnored(t *testing.T) {
	id := uuid.New()
	out, err := decodeSelection([]byte(`[{"id":"` + id.String() + `","type":"ram","name":"16GB","extra":{"a":[1,2]}}]`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)
	assert.Equal(t, catalog.VariantRAM, out[0].Type)
}

func TestDecodeSelection_Invalid(t *testing.T) {
	_, err := decodeSelection([]byte(`[{"id":"not-a-uuid"}]`))
	require.Error(t, err)

	_, err = decodeSelection([]byte(`{"id":1}`))
	require.Error(t, err)
}

func TestProductSnapshotDocument(t *testing.T) {
	in := order.ProductSnapshot{
		Name:        "iPhone 15 Pro",
		Description: "Titanium",
		BasePrice:   decimal.RequireFromString("999.99"),
	}

	out, err := decodeProductSnapshot(encodeProductSnapshot(in))
	require.NoError(t, err)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Description, out.Description)
	assert.True(t, in.BasePrice.Equal(out.BasePrice))
}

func TestVariantSnapshotsDocument(t *testing.T) {
	in := []order.VariantSnapshot{
		{ID: uuid.New(), Type: catalog.VariantStorage, Name: "512GB", PriceModifier: decimal.RequireFromString("200.00")},
		{ID: uuid.New(), Type: catalog.VariantColor, Name: "Blue", PriceModifier: decimal.RequireFromString("-15.5")},
	}

	out, err := decodeVariantSnapshots(encodeVariantSnapshots(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Type, out[i].Type)
		assert.Equal(t, in[i].Name, out[i].Name)
		assert.True(t, in[i].PriceModifier.Equal(out[i].PriceModifier), "modifier %d", i)
	}
}

func TestDecodeDecimal_Number(t *testing.T) {
	out, err := decodeVariantSnapshots([]byte(`[{"priceModifier":12.75}]`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "12.75", out[0].PriceModifier.String())
}
