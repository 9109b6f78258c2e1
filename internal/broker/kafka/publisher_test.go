package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func testOrder() *order.Order {
	return &order.Order{
		ID:     uuid.New(),
		Number: "ORD-20240315-9F1C2B7A44D0E35B",
		UserID: uuid.New(),
		Status: order.StatusPending,
		Detail: order.Detail{
			Subtotal: decimal.RequireFromString("2199.98"),
			Total:    decimal.RequireFromString("2214.98"),
			Items: []order.Item{{
				ProductID: uuid.New(),
				Quantity:  2,
				UnitPrice: decimal.RequireFromString("1099.99"),
				Product:   order.ProductSnapshot{Name: "iPhone 15 Pro"},
				Variants:  []order.VariantSnapshot{{ID: uuid.New(), Name: "256GB"}},
			}},
		},
	}
}

func fields(t *testing.T, data []byte) map[string]jx.Raw {
	t.Helper()
	out := map[string]jx.Raw{}
	require.NoError(t, jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		out[key] = raw
		return err
	}))
	return out
}

func TestPublisher_OrderCreated(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	p := &Publisher{w: w, now: func() time.Time { return at }}
	o := testOrder()

	require.NoError(t, p.OrderCreated(context.Background(), o))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, o.ID.String(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventOrderCreated, string(msg.Headers[0].Value))

	f := fields(t, msg.Value)
	assert.Equal(t, `"order.created"`, f["type"].String())
	assert.Equal(t, `"2024-03-15T10:00:00Z"`, f["occurredAt"].String())
	assert.Equal(t, `"`+o.Number+`"`, f["orderNumber"].String())
	assert.Equal(t, `"pending"`, f["status"].String())
	assert.Equal(t, `"2214.98"`, f["total"].String())

	var items int
	require.NoError(t, jx.DecodeBytes(f["items"]).Arr(func(d *jx.Decoder) error {
		items++
		return d.Skip()
	}))
	assert.Equal(t, 1, items)
}

func TestPublisher_StatusChanged(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{w: w, now: time.Now}
	o := testOrder()
	o.Status = order.StatusShipped

	require.NoError(t, p.StatusChanged(context.Background(), o, order.StatusPaid))
	require.Len(t, w.msgs, 1)

	f := fields(t, w.msgs[0].Value)
	assert.Equal(t, `"order.status_changed"`, f["type"].String())
	assert.Equal(t, `"shipped"`, f["status"].String())
	assert.Equal(t, `"paid"`, f["previousStatus"].String())
}

func TestPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &Publisher{w: w, now: time.Now}

	err := p.OrderCreated(context.Background(), testOrder())
	require.ErrorContains(t, err, "write order.created")
	require.ErrorContains(t, err, "broker down")
}

func TestNewWriter(t *testing.T) {
	w := newWriter([]string{"localhost:9092"}, "kart.orders")
	assert.Equal(t, "kart.orders", w.Topic)
	assert.Equal(t, kafkago.RequireAll, w.RequiredAcks)
	assert.Positive(t, w.BatchTimeout)
	assert.LessOrEqual(t, w.BatchTimeout, 50*time.Millisecond)
	assert.IsType(t, &kafkago.Hash{}, w.Balancer)
}
