// Package apperr defines the error kinds shared by the checkout domain.
//
// Every business failure is reported as a typed error that matches one of the
// sentinel kinds below through errors.Is, so transport layers can classify a
// failure without knowing which service produced it.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Error kinds.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSelection  = errors.New("invalid variant selection")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidTransition = errors.New("invalid order status")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrConflict          = errors.New("conflict")
	ErrSystem            = errors.New("system failure")
)

// NotFoundError reports a missing user, product, cart, cart item or order.
type NotFoundError struct {
	Entity string
	ID     string
}

// NotFound returns a *NotFoundError for the given entity name and id.
func NotFound(entity string, id uuid.UUID) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidSelectionError reports a variant selection that cannot be applied to
// a product. VariantID is uuid.Nil when the problem is not tied to a single
// variant.
type InvalidSelectionError struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
	Reason    string
}

func (e *InvalidSelectionError) Error() string {
	if e.VariantID == uuid.Nil {
		return fmt.Sprintf("invalid selection for product %s: %s", e.ProductID, e.Reason)
	}
	return fmt.Sprintf("invalid selection for product %s: variant %s %s", e.ProductID, e.VariantID, e.Reason)
}

func (e *InvalidSelectionError) Is(target error) bool { return target == ErrInvalidSelection }

// InsufficientStockError reports that a requested quantity exceeds what is
// available for a product selection.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidTransitionError reports an unknown order status.
type InvalidTransitionError struct {
	Status string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Status)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// InvalidQuantityError reports a non-positive quantity where one is required.
type InvalidQuantityError struct {
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0, got %d", e.Quantity)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidQuantity }

// SystemError wraps an infrastructure failure. Its message never includes the
// underlying error so that it can be shown to callers as is.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: system failure", e.Op)
}

func (e *SystemError) Unwrap() error { return e.Err }

func (e *SystemError) Is(target error) bool { return target == ErrSystem }

// IsBusiness reports whether err is one of the business rule kinds.
func IsBusiness(err error) bool {
	for _, kind := range []error{
		ErrNotFound,
		ErrInvalidSelection,
		ErrInsufficientStock,
		ErrEmptyCart,
		ErrInvalidTransition,
		ErrInvalidQuantity,
		ErrConflict,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Classify returns err unchanged when it is nil, a business error or already
// a *SystemError. Anything else is wrapped as a *SystemError for op.
func Classify(op string, err error) error {
	if err == nil || IsBusiness(err) || errors.Is(err, ErrSystem) {
		return err
	}
	return &SystemError{Op: op, Err: err}
}
