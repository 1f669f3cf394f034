package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage takes value percent off the subtotal, optionally capped.
	KindPercentage Kind = "PERCENTAGE"
	// KindFixed takes a flat amount off the subtotal.
	KindFixed Kind = "FIXED"
)

var (
	// ErrNotFound is returned when no coupon matches a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrExhausted is returned when the usage limit was reached by the time
	// the order committed.
	ErrExhausted = errors.New("coupon usage limit reached")
)

// MinimumNotMetError is returned when a usable coupon requires a larger
// subtotal than the cart has.
type MinimumNotMetError struct {
	Code    string
	Minimum decimal.Decimal
}

func (e *MinimumNotMetError) Error() string {
	return fmt.Sprintf("coupon %s requires a minimum purchase of %s", e.Code, e.Minimum.StringFixed(2))
}

// Coupon is a named discount rule.
type Coupon struct {
	ID          string
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	MinPurchase *decimal.Decimal
	MaxDiscount *decimal.Decimal
	UsageLimit  *int
	UsedCount   int
	StartsAt    time.Time
	EndsAt      time.Time
	Active      bool
}

// Usable reports whether the coupon may be applied at now. The window is
// inclusive at both ends.
func (c *Coupon) Usable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if now.Before(c.StartsAt) || now.After(c.EndsAt) {
		return false
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return false
	}
	return true
}

// Repository provides read access to coupons. Usage counters are only
// mutated inside the order commit transaction.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}
