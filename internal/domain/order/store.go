package order

import (
	"context"
	"time"

	"github.com/xenking/optic-orders/internal/domain/tracking"
)

// Store is the persistence boundary of the order service. Every mutation
// goes through InTx so that an order, its items, stock, coupon usage and
// ledger entries change together or not at all.
type Store interface {
	// InTx runs fn in one transaction. The transaction commits if fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Get returns the order with its items or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the user's orders with items, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
}

// Tx is the set of writes available inside a transaction.
type Tx interface {
	// InsertOrder inserts the order row. It returns ErrNumberTaken if the
	// order number exists (the transaction stays usable) and
	// ErrPaymentRecorded if the payment id is already used.
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, items []Item) error
	// DeductStock decrements variant (when variantID is set) and product
	// stock by qty, each only if at least qty remains. Otherwise it returns
	// ErrOutOfStock.
	DeductStock(ctx context.Context, productID, variantID string, qty int) error
	// RestoreStock increments variant (when set) and product stock by qty.
	RestoreStock(ctx context.Context, productID, variantID string, qty int) error
	// ClaimCoupon increments the used count only while it is below the usage
	// limit. Otherwise it returns coupon.ErrExhausted.
	ClaimCoupon(ctx context.Context, couponID string) error
	// LockOrder loads the order with its items and holds a row lock until
	// the transaction ends.
	LockOrder(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, payment PaymentStatus, at time.Time) error
	AppendEvent(ctx context.Context, e tracking.Event) error
}

// EventKind names an order event published after commit.
type EventKind string

const (
	EventPlaced        EventKind = "order.placed"
	EventCancelled     EventKind = "order.cancelled"
	EventStatusChanged EventKind = "order.status_changed"
	EventRefunded      EventKind = "order.refunded"
)

// Event is handed to the Notifier after a successful transaction.
type Event struct {
	Kind       EventKind
	Order      Order
	OccurredAt time.Time
}

// Notifier delivers order events to downstream consumers such as the email
// sender. Failures are logged by the service and never fail the request.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
