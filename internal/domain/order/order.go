package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how the customer pays for the order.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentOnline PaymentMethod = "ONLINE"
)

// Order is the commit unit: created once by PlaceOrder or ConfirmPayment,
// afterwards only Status, PaymentStatus and UpdatedAt change.
type Order struct {
	ID             string
	Number         string
	UserID         string
	AddressID      string
	Items          []Item
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	ShippingCharge decimal.Decimal
	Total          decimal.Decimal
	Status         Status
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	PaymentID      string
	GatewayOrderID string
	CouponID       string
	CouponCode     string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is an order line. Price is the unit price captured when the order was
// placed and is never re-read from the catalog.
type Item struct {
	ID          string
	OrderID     string
	ProductID   string
	VariantID   string
	ProductName string
	Price       decimal.Decimal
	Quantity    int
}

// LineTotal is Price × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
