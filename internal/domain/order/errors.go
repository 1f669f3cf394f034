package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrEmptyItems is returned when an order has no lines.
	ErrEmptyItems = errors.New("at least one item is required")
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrProductsUnavailable is returned when some requested product is
	// missing or inactive.
	ErrProductsUnavailable = errors.New("one or more products are unavailable")
	// ErrCommitFailed is the generic failure of the commit transaction.
	ErrCommitFailed = errors.New("failed to create order")

	// ErrNumberTaken is reported by Tx.InsertOrder on an order number clash.
	ErrNumberTaken = errors.New("order number already taken")
	// ErrOutOfStock is reported by Tx.DeductStock when a conditional
	// decrement matched no row.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrPaymentRecorded is reported by Tx.InsertOrder when the gateway
	// payment id is already attached to another order.
	ErrPaymentRecorded = errors.New("payment id already recorded")
)

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidQuantityError indicates a line item has a non-positive quantity,
// or one above Max once duplicate lines are merged.
type InvalidQuantityError struct {
	ProductID string
	Max       int
}

func (e *InvalidQuantityError) Error() string {
	if e.Max > 0 {
		return fmt.Sprintf("quantity must not exceed %d for product %s", e.Max, e.ProductID)
	}
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// CommitError wraps an unexpected commit transaction failure. It matches
// ErrCommitFailed and the underlying cause.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return ErrCommitFailed.Error() + ": " + e.Err.Error()
}

func (e *CommitError) Unwrap() error { return e.Err }

func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }

// UnavailableError names the product that cannot be ordered.
type UnavailableError struct {
	ProductID   string
	ProductName string
	Reason      string
}

func (e *UnavailableError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%s: %s", name, e.Reason)
}

// InvalidTransitionError is returned when the state machine rejects a move.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}
