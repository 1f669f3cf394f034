// Package tracking models the append-only history of order lifecycle events.
package tracking

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Labels attached to lifecycle milestones.
const (
	LabelPlaced          = "Order Placed"
	LabelConfirmed       = "Order Confirmed"
	LabelProcessing      = "Processing"
	LabelShipped         = "Shipped"
	LabelDelivered       = "Delivered"
	LabelReturned        = "Returned"
	LabelCancelled       = "Order Cancelled"
	LabelRefundProcessed = "Refund Processed"
)

// Event is an immutable ledger entry. IDs are ULIDs so that lexical order
// matches creation order within the same millisecond.
type Event struct {
	ID        string
	OrderID   string
	Label     string
	Message   string
	CreatedAt time.Time
}

// NewEvent builds an event stamped at now.
func NewEvent(orderID, label, message string, now time.Time) Event {
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		OrderID:   orderID,
		Label:     label,
		Message:   message,
		CreatedAt: now,
	}
}

// Repository reads the ledger. Appends happen only inside order transactions.
type Repository interface {
	ListByOrder(ctx context.Context, orderID string) ([]Event, error)
}
