package order

import (
	"context"

	"github.com/google/uuid"
)

// Publisher announces committed order changes to other systems. Publishing
// happens after commit and its failure never affects the order.
type Publisher interface {
	OrderCreated(ctx context.Context, o *Order) error
	StatusChanged(ctx context.Context, o *Order, previous Status) error
}

type nopPublisher struct{}

func (nopPublisher) OrderCreated(context.Context, *Order) error { return nil }

func (nopPublisher) StatusChanged(context.Context, *Order, Status) error { return nil }

// IdempotencyStore remembers which order a client request key produced.
//
// Acquire claims key for userID. It returns acquired=true when the caller
// now owns the key, or the id of the order an earlier request with the same
// key created. A key whose first request is still running yields an error
// matching apperr.ErrConflict.
type IdempotencyStore interface {
	Acquire(ctx context.Context, userID uuid.UUID, key string) (orderID uuid.UUID, acquired bool, err error)
	Complete(ctx context.Context, userID uuid.UUID, key string, orderID uuid.UUID) error
	Release(ctx context.Context, userID uuid.UUID, key string) error
}
