package catalog

import "github.com/go-faster/errors"

// ErrStockConflict is returned by a guarded decrement that would drive stock
// below zero. Nothing is written when it is returned.
var ErrStockConflict = errors.New("stock decrement conflict")
