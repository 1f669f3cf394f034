// Package pricing turns resolved cart lines and an optional coupon into the
// monetary breakdown stored on an order.
package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/optic-orders/internal/domain/coupon"
)

// Default shipping policy.
var (
	DefaultFreeShippingThreshold = decimal.NewFromInt(999)
	DefaultShippingFee           = decimal.NewFromInt(99)
)

// Line is a cart line with catalog prices already resolved.
type Line struct {
	ProductID    string
	VariantID    string
	BasePrice    decimal.Decimal
	VariantPrice *decimal.Decimal
	Quantity     int
}

// UnitPrice is the variant override when the line has a variant that
// defines one, otherwise the product price.
func (l Line) UnitPrice() decimal.Decimal {
	if l.VariantID != "" && l.VariantPrice != nil {
		return *l.VariantPrice
	}
	return l.BasePrice
}

// Quote is the result of pricing a cart.
type Quote struct {
	// UnitPrices is parallel to the input lines.
	UnitPrices     []decimal.Decimal
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	ShippingCharge decimal.Decimal
	Total          decimal.Decimal
	// Coupon is set only when a discount was actually applied.
	Coupon *coupon.Coupon
}

// Engine computes quotes. The zero value is not usable; use NewEngine.
type Engine struct {
	freeShippingThreshold decimal.Decimal
	shippingFee           decimal.Decimal
}

// Option configures an Engine.
type Option func(*Engine)

// WithShipping overrides the free-shipping threshold and the flat fee.
func WithShipping(threshold, fee decimal.Decimal) Option {
	return func(e *Engine) {
		e.freeShippingThreshold = threshold
		e.shippingFee = fee
	}
}

// NewEngine creates an Engine with the default shipping policy.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		freeShippingThreshold: DefaultFreeShippingThreshold,
		shippingFee:           DefaultShippingFee,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Quote prices lines and applies c when it is usable at now.
//
// An unusable coupon (inactive, outside its window, exhausted) is ignored and
// the quote carries no discount. A usable coupon whose minimum purchase is not
// met fails with *coupon.MinimumNotMetError.
func (e *Engine) Quote(lines []Line, c *coupon.Coupon, now time.Time) (Quote, error) {
	q := Quote{
		UnitPrices: make([]decimal.Decimal, len(lines)),
		Subtotal:   decimal.Zero,
		Discount:   decimal.Zero,
	}

	for i, l := range lines {
		if l.Quantity <= 0 {
			return Quote{}, errors.Errorf("line %d: quantity must be positive", i)
		}
		unit := l.UnitPrice()
		q.UnitPrices[i] = unit
		q.Subtotal = q.Subtotal.Add(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	q.ShippingCharge = e.shippingFor(q.Subtotal)

	if c != nil && c.Usable(now) {
		d, err := c.Discount(q.Subtotal)
		if err != nil {
			return Quote{}, err
		}
		q.Discount = d
		q.Coupon = c
	}

	q.Total = q.Subtotal.Sub(q.Discount).Add(q.ShippingCharge)
	return q, nil
}

func (e *Engine) shippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(e.freeShippingThreshold) {
		return decimal.Zero
	}
	return e.shippingFee
}
