// Package kafka publishes order lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Event types, also sent in the event-type header.
const (
	EventOrderCreated  = "order.created"
	EventStatusChanged = "order.status_changed"
)

const (
	writeTimeout = 5 * time.Second
	// batchTimeout caps how long a synchronous write waits for the batch to
	// fill. Events are published one at a time.
	batchTimeout = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher implements order.Publisher. Messages are keyed by order id so
// that all events of one order land on the same partition.
type Publisher struct {
	w   messageWriter
	now func() time.Time
}

// NewPublisher returns a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{w: newWriter(brokers, topic), now: time.Now}
}

func newWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
}

// OrderCreated publishes an order.created event.
func (p *Publisher) OrderCreated(ctx context.Context, o *order.Order) error {
	return p.write(ctx, EventOrderCreated, o, encodeOrderCreated(o, p.now()))
}

// StatusChanged publishes an order.status_changed event.
func (p *Publisher) StatusChanged(ctx context.Context, o *order.Order, previous order.Status) error {
	return p.write(ctx, EventStatusChanged, o, encodeStatusChanged(o, previous, p.now()))
}

func (p *Publisher) write(ctx context.Context, event string, o *order.Order, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := p.w.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(o.ID.String()),
		Value:   value,
		Headers: []kafkago.Header{{Key: "event-type", Value: []byte(event)}},
	})
	if err != nil {
		return errors.Wrapf(err, "write %s", event)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func encodeOrderCreated(o *order.Order, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	encodeHeader(&e, EventOrderCreated, o, at)
	e.FieldStart("subtotal")
	e.Str(o.Detail.Subtotal.StringFixed(2))
	e.FieldStart("total")
	e.Str(o.Detail.Total.StringFixed(2))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Detail.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID.String())
		e.FieldStart("name")
		e.Str(it.Product.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		e.Str(it.UnitPrice.StringFixed(2))
		e.FieldStart("variantIds")
		e.ArrStart()
		for _, v := range it.Variants {
			e.Str(v.ID.String())
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func encodeStatusChanged(o *order.Order, previous order.Status, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	encodeHeader(&e, EventStatusChanged, o, at)
	e.FieldStart("previousStatus")
	e.Str(string(previous))
	e.ObjEnd()
	return e.Bytes()
}

func encodeHeader(e *jx.Encoder, event string, o *order.Order, at time.Time) {
	e.FieldStart("type")
	e.Str(event)
	e.FieldStart("occurredAt")
	e.Str(at.UTC().Format(time.RFC3339Nano))
	e.FieldStart("orderId")
	e.Str(o.ID.String())
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("userId")
	e.Str(o.UserID.String())
	e.FieldStart("status")
	e.Str(string(o.Status))
}
