// Package txn defines the scoped unit-of-work capability used by domain
// services.
package txn

import "context"

// Transactor runs fn inside one unit of work. The work commits when fn
// returns nil and rolls back when fn returns an error or panics. T is the
// repository set bound to the unit of work.
type Transactor[T any] interface {
	InTx(ctx context.Context, fn func(tx T) error) error
}

// Func adapts a plain function to a Transactor.
type Func[T any] func(ctx context.Context, fn func(tx T) error) error

// InTx calls f(ctx, fn).
func (f Func[T]) InTx(ctx context.Context, fn func(tx T) error) error {
	return f(ctx, fn)
}
