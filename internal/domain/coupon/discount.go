package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount calculates the amount the coupon takes off subtotal. It does not
// check usability; callers decide what an unusable coupon means.
//
// The result never exceeds subtotal and is rounded to 2 decimal places.
func (c *Coupon) Discount(subtotal decimal.Decimal) (decimal.Decimal, error) {
	if c.MinPurchase != nil && subtotal.LessThan(*c.MinPurchase) {
		return decimal.Zero, &MinimumNotMetError{Code: c.Code, Minimum: *c.MinPurchase}
	}

	var amount decimal.Decimal
	switch c.Kind {
	case KindPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscount != nil && amount.GreaterThan(*c.MaxDiscount) {
			amount = *c.MaxDiscount
		}
	case KindFixed:
		amount = c.Value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount kind: %q", c.Kind)
	}

	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2), nil
}
