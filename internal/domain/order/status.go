package order

import (
	"github.com/xenking/optic-orders/internal/domain/tracking"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusReturned   Status = "RETURNED"
)

// PaymentStatus is the settlement state, loosely coupled to Status.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentPaid          PaymentStatus = "PAID"
	PaymentRefundPending PaymentStatus = "REFUND_PENDING"
	PaymentRefunded      PaymentStatus = "REFUNDED"
	PaymentCancelled     PaymentStatus = "CANCELLED"
)

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered, StatusReturned},
	StatusDelivered:  nil,
	StatusCancelled:  nil,
	StatusReturned:   nil,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:       {PaymentPaid, PaymentCancelled},
	PaymentPaid:          {PaymentRefundPending, PaymentRefunded},
	PaymentRefundPending: {PaymentRefunded},
	PaymentRefunded:      nil,
	PaymentCancelled:     nil,
}

var statusLabels = map[Status]string{
	StatusPending:    tracking.LabelPlaced,
	StatusConfirmed:  tracking.LabelConfirmed,
	StatusProcessing: tracking.LabelProcessing,
	StatusShipped:    tracking.LabelShipped,
	StatusDelivered:  tracking.LabelDelivered,
	StatusCancelled:  tracking.LabelCancelled,
	StatusReturned:   tracking.LabelReturned,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// Label is the tracking ledger label for entering s.
func (s Status) Label() string {
	return statusLabels[s]
}

// CanTransition reports whether the table allows from → to.
func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether the payment table allows from → to.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a customer may cancel an order in status s.
func Cancellable(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

// paymentAfterWithdrawal is the payment status once an order is cancelled or
// returned: paid orders wait for a refund, unpaid ones are voided.
func paymentAfterWithdrawal(p PaymentStatus) PaymentStatus {
	switch p {
	case PaymentPaid:
		return PaymentRefundPending
	case PaymentPending:
		return PaymentCancelled
	default:
		return p
	}
}
