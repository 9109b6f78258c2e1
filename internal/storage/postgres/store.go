// Package postgres is the PostgreSQL storage backend. Every repository can
// run either directly on the pool or inside a transaction opened by
// Store.WithTx, so a whole checkout commits or rolls back as one unit.
package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/txn"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var (
	_ querier = (*pgxpool.Pool)(nil)
	_ querier = (pgx.Tx)(nil)
)

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store using pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Tx is the repository set bound to one database transaction.
type Tx struct {
	q pgx.Tx
}

// WithTx runs fn inside a READ COMMITTED transaction. The transaction is
// committed when fn returns nil and rolled back otherwise, including when fn
// panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (rerr error) {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin")
	}

	defer func() {
		p := recover()
		if p == nil && rerr == nil {
			return
		}
		if err := pgtx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			zctx.From(ctx).Warn("Rollback failed", zap.Error(err))
		}
		if p != nil {
			panic(p)
		}
	}()

	if err := fn(&Tx{q: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
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

// Catalog returns a catalog repository on the pool.
func (s *Store) Catalog() catalog.Repository { return &CatalogRepository{q: s.pool} }

// Users returns a user repository on the pool.
func (s *Store) Users() user.Repository { return &UserRepository{q: s.pool} }

// APIKeys returns an API key repository on the pool.
func (s *Store) APIKeys() auth.Repository { return &APIKeyRepository{q: s.pool} }

// Orders returns an order repository on the pool.
func (s *Store) Orders() order.Repository { return &OrderRepository{q: s.pool} }

// Catalog returns the catalog repository of the transaction.
func (tx *Tx) Catalog() catalog.Repository { return &CatalogRepository{q: tx.q} }

// Users returns the user repository of the transaction.
func (tx *Tx) Users() user.Repository { return &UserRepository{q: tx.q} }

// Carts returns the cart repository of the transaction.
func (tx *Tx) Carts() cart.Repository { return &CartRepository{q: tx.q} }

// Orders returns the order repository of the transaction.
func (tx *Tx) Orders() order.Repository { return &OrderRepository{q: tx.q} }

// APIKeys returns the API key repository of the transaction.
func (tx *Tx) APIKeys() auth.Repository { return &APIKeyRepository{q: tx.q} }

var (
	_ order.Tx = (*Tx)(nil)
	_ cart.Tx  = (*Tx)(nil)
)
