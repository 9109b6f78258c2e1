// Package memory is an in-process storage backend. Units of work are
// serialized by a store-wide lock and applied by swapping in a modified copy
// of the state, which gives full rollback without a database.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/txn"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

type state struct {
	products map[uuid.UUID]catalog.Product
	users    map[uuid.UUID]user.User
	apikeys  map[string]auth.APIKeyInfo
	carts    map[uuid.UUID]*cart.Cart // by user id
	orders   map[uuid.UUID]order.Order
}

func newState() *state {
	return &state{
		products: make(map[uuid.UUID]catalog.Product),
		users:    make(map[uuid.UUID]user.User),
		apikeys:  make(map[string]auth.APIKeyInfo),
		carts:    make(map[uuid.UUID]*cart.Cart),
		orders:   make(map[uuid.UUID]order.Order),
	}
}

// clone copies everything a unit of work may mutate. Orders are immutable
// apart from their status, so sharing their item slices is safe.
func (s *state) clone() *state {
	out := &state{
		products: make(map[uuid.UUID]catalog.Product, len(s.products)),
		users:    make(map[uuid.UUID]user.User, len(s.users)),
		apikeys:  make(map[string]auth.APIKeyInfo, len(s.apikeys)),
		carts:    make(map[uuid.UUID]*cart.Cart, len(s.carts)),
		orders:   make(map[uuid.UUID]order.Order, len(s.orders)),
	}
	for id, p := range s.products {
		out.products[id] = cloneProduct(p)
	}
	for id, u := range s.users {
		out.users[id] = u
	}
	for h, k := range s.apikeys {
		out.apikeys[h] = k
	}
	for id, c := range s.carts {
		out.carts[id] = c.Clone()
	}
	for id, o := range s.orders {
		out.orders[id] = o
	}
	return out
}

// Store is the in-memory backend.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// Tx is the repository set bound to one unit of work.
type Tx struct {
	st *state
}

// WithTx runs fn in a unit of work. Changes become visible only when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&Tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Transactor exposes s as a txn.Transactor for the repository set view
// returns.
func Transactor[T any](s *Store, view func(tx *Tx) T) txn.Transactor[T] {
	return txn.Func[T](func(ctx context.Context, fn func(tx T) error) error {
		return s.WithTx(ctx, func(tx *Tx) error {
			return fn(view(tx))
		})
	})
}

// Catalog returns a catalog repository where every call is its own unit of
// work.
func (s *Store) Catalog() catalog.Repository { return &catalogRepo{run: s.run} }

// Users returns a user repository outside of any unit of work.
func (s *Store) Users() user.Repository { return &userRepo{run: s.run} }

// APIKeys returns an API key repository outside of any unit of work.
func (s *Store) APIKeys() auth.Repository { return &apikeyRepo{run: s.run} }

// runner executes fn against a state, either inside an open unit of work or
// as a unit of work of its own.
type runner func(ctx context.Context, fn func(st *state) error) error

func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return fn(tx.st)
	})
}

func (tx *Tx) run(_ context.Context, fn func(st *state) error) error { return fn(tx.st) }

// Catalog returns the catalog repository of the unit of work.
func (tx *Tx) Catalog() catalog.Repository { return &catalogRepo{run: tx.run} }

// Users returns the user repository of the unit of work.
func (tx *Tx) Users() user.Repository { return &userRepo{run: tx.run} }

// Carts returns the cart repository of the unit of work.
func (tx *Tx) Carts() cart.Repository { return &cartRepo{run: tx.run} }

// Orders returns the order repository of the unit of work.
func (tx *Tx) Orders() order.Repository { return &orderRepo{run: tx.run} }

// APIKeys returns the API key repository of the unit of work.
func (tx *Tx) APIKeys() auth.Repository { return &apikeyRepo{run: tx.run} }

var (
	_ order.Tx = (*Tx)(nil)
	_ cart.Tx  = (*Tx)(nil)
)
