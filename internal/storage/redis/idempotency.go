// Package redis keeps order request keys in Redis so that a retried checkout
// returns the order of the first attempt instead of placing a second one.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	keyPrefix    = "kart:idempotency:"
	pendingValue = "pending"

	// pendingTTL bounds how long a key stays claimed when its request never
	// completes or releases it.
	pendingTTL = time.Minute
)

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore implements order.IdempotencyStore. A key holds "pending"
// while its first request runs and the order id afterwards. A pending key
// expires after at most a minute, a completed one after ttl.
type IdempotencyStore struct {
	client     goredis.UniversalClient
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewIdempotencyStore returns a store using client. A non-positive ttl
// defaults to 24 hours.
func NewIdempotencyStore(client goredis.UniversalClient, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: min(ttl, pendingTTL)}
}

func redisKey(userID uuid.UUID, key string) string {
	return keyPrefix + userID.String() + ":" + key
}

// Acquire claims key for userID.
func (s *IdempotencyStore) Acquire(ctx context.Context, userID uuid.UUID, key string) (uuid.UUID, bool, error) {
	k := redisKey(userID, key)

	// The second round covers a key that expired between SETNX and GET.
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, pendingValue, s.pendingTTL).Result()
		if err != nil {
			return uuid.Nil, false, errors.Wrap(err, "setnx")
		}
		if ok {
			return uuid.Nil, true, nil
		}

		val, err := s.client.Get(ctx, k).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			return uuid.Nil, false, errors.Wrap(err, "get")
		case val == pendingValue:
			return uuid.Nil, false, errors.Wrapf(apperr.ErrConflict, "request %q is still in progress", key)
		}

		orderID, err := uuid.Parse(val)
		if err != nil {
			return uuid.Nil, false, errors.Wrapf(err, "parse stored order id for %q", key)
		}
		return orderID, false, nil
	}
	return uuid.Nil, false, errors.Wrapf(apperr.ErrConflict, "request %q is contended", key)
}

// Complete records the order created for key.
func (s *IdempotencyStore) Complete(ctx context.Context, userID uuid.UUID, key string, orderID uuid.UUID) error {
	if err := s.client.Set(ctx, redisKey(userID, key), orderID.String(), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

// Release frees key after a failed request so that it may be retried.
func (s *IdempotencyStore) Release(ctx context.Context, userID uuid.UUID, key string) error {
	if err := s.client.Del(ctx, redisKey(userID, key)).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}
