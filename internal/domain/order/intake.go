package order

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"

	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/pricing"
	"github.com/xenking/optic-orders/internal/domain/product"
)

const (
	maxNotesLen = 500
	// maxLineQuantity bounds a merged line; order_items.quantity is INTEGER.
	maxLineQuantity = math.MaxInt32
)

// LineRequest is one requested cart line.
type LineRequest struct {
	ProductID string
	VariantID string
	Quantity  int
}

// PlaceOrderRequest is the order intent submitted by a customer, either
// directly (COD) or as the payload of a payment confirmation.
type PlaceOrderRequest struct {
	UserID        string
	AddressID     string
	PaymentMethod PaymentMethod
	CouponCode    string
	Notes         string
	Items         []LineRequest
}

type checkedLine struct {
	product  *product.Product
	variant  *product.Variant
	quantity int
}

func (l checkedLine) variantID() string {
	if l.variant == nil {
		return ""
	}
	return l.variant.ID
}

func (l checkedLine) available() int {
	if l.variant != nil {
		return l.variant.Stock
	}
	return l.product.Stock
}

func (l checkedLine) displayName() string {
	if l.variant == nil || l.variant.Name == "" {
		return l.product.Name
	}
	return l.product.Name + " (" + l.variant.Name + ")"
}

// checkedCart is the outcome of a successful intake: everything needed to
// price and commit the order, read but not locked.
type checkedCart struct {
	address *address.Address
	lines   []checkedLine
	coupon  *coupon.Coupon
}

func (c *checkedCart) pricingLines() []pricing.Line {
	out := make([]pricing.Line, len(c.lines))
	for i, l := range c.lines {
		out[i] = pricing.Line{
			ProductID: l.product.ID,
			VariantID: l.variantID(),
			BasePrice: l.product.Price,
			Quantity:  l.quantity,
		}
		if l.variant != nil {
			out[i].VariantPrice = l.variant.Price
		}
	}
	return out
}

// normalize checks the request shape without touching any store. Lines for
// the same product and variant are merged.
func normalize(req PlaceOrderRequest) (PlaceOrderRequest, error) {
	if req.UserID == "" {
		return req, &ValidationError{Field: "userId", Reason: "is required"}
	}
	req.AddressID = strings.TrimSpace(req.AddressID)
	if req.AddressID == "" {
		return req, &ValidationError{Field: "addressId", Reason: "is required"}
	}
	if len(req.Items) == 0 {
		return req, ErrEmptyItems
	}
	if utf8.RuneCountInString(req.Notes) > maxNotesLen {
		return req, &ValidationError{Field: "notes", Reason: "is too long"}
	}
	req.CouponCode = strings.ToUpper(strings.TrimSpace(req.CouponCode))

	type lineKey struct{ product, variant string }
	merged := make([]LineRequest, 0, len(req.Items))
	index := make(map[lineKey]int, len(req.Items))
	for _, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		if item.ProductID == "" {
			return req, &ValidationError{Field: "items.productId", Reason: "is required"}
		}
		if item.Quantity <= 0 {
			return req, &InvalidQuantityError{ProductID: item.ProductID}
		}
		if item.Quantity > maxLineQuantity {
			return req, &InvalidQuantityError{ProductID: item.ProductID, Max: maxLineQuantity}
		}
		k := lineKey{item.ProductID, item.VariantID}
		if i, ok := index[k]; ok {
			if item.Quantity > maxLineQuantity-merged[i].Quantity {
				return req, &InvalidQuantityError{ProductID: item.ProductID, Max: maxLineQuantity}
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		index[k] = len(merged)
		merged = append(merged, item)
	}
	req.Items = merged
	return req, nil
}

// intake resolves and checks a normalized request against the address book,
// the catalog and the coupon store. It performs reads only.
func (s *Service) intake(ctx context.Context, req PlaceOrderRequest) (*checkedCart, error) {
	addr, err := s.addresses.FindForUser(ctx, req.AddressID, req.UserID)
	if err != nil {
		if errors.Is(err, address.ErrNotFound) {
			return nil, address.ErrNotFound
		}
		return nil, errors.Wrap(err, "find address")
	}

	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		if fetched[i].Active {
			byID[fetched[i].ID] = &fetched[i]
		}
	}
	if len(byID) < len(ids) {
		return nil, ErrProductsUnavailable
	}

	cart := &checkedCart{address: addr, lines: make([]checkedLine, 0, len(req.Items))}
	for _, item := range req.Items {
		p := byID[item.ProductID]
		line := checkedLine{product: p, quantity: item.Quantity}
		if item.VariantID != "" {
			v, ok := p.Variant(item.VariantID)
			if !ok {
				return nil, &UnavailableError{ProductID: p.ID, ProductName: p.Name, Reason: "selected variant is not available"}
			}
			line.variant = v
		}
		if line.available() < line.quantity {
			return nil, &UnavailableError{ProductID: p.ID, ProductName: line.displayName(), Reason: "insufficient stock"}
		}
		cart.lines = append(cart.lines, line)
	}

	if req.CouponCode != "" {
		c, err := s.coupons.FindByCode(ctx, req.CouponCode)
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			// Unknown codes are ignored like any other unusable coupon.
		case err != nil:
			return nil, errors.Wrap(err, "find coupon")
		default:
			cart.coupon = c
		}
	}

	return cart, nil
}
