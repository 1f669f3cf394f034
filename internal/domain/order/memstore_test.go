package order

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/product"
	"github.com/xenking/optic-orders/internal/domain/tracking"
)

// memStore is a transactional in-memory Store. A failed InTx restores the
// snapshot taken before fn ran.
type memStore struct {
	mu sync.Mutex

	products  map[string]product.Product
	coupons   map[string]coupon.Coupon
	addresses map[string]address.Address
	orders    map[string]Order
	events    []tracking.Event

	// staleProducts and staleCoupons, when set, are served by the read
	// repositories instead of the committed state.
	staleProducts map[string]product.Product
	staleCoupons  map[string]coupon.Coupon

	numberClashes int
	failAppend    error

	// stockTouches records every stock row adjusted, in call order.
	stockTouches []string
}

type memState struct {
	products map[string]product.Product
	coupons  map[string]coupon.Coupon
	orders   map[string]Order
	events   []tracking.Event
}

func newMemStore() *memStore {
	return &memStore{
		products:  make(map[string]product.Product),
		coupons:   make(map[string]coupon.Coupon),
		addresses: make(map[string]address.Address),
		orders:    make(map[string]Order),
	}
}

func cloneProduct(p product.Product) product.Product {
	p.Variants = slices.Clone(p.Variants)
	return p
}

func cloneOrder(o Order) Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func (s *memStore) snapshot() memState {
	st := memState{
		products: make(map[string]product.Product, len(s.products)),
		coupons:  make(map[string]coupon.Coupon, len(s.coupons)),
		orders:   make(map[string]Order, len(s.orders)),
		events:   slices.Clone(s.events),
	}
	for k, v := range s.products {
		st.products[k] = cloneProduct(v)
	}
	for k, v := range s.coupons {
		st.coupons[k] = v
	}
	for k, v := range s.orders {
		st.orders[k] = cloneOrder(v)
	}
	return st
}

func (s *memStore) restore(st memState) {
	s.products = st.products
	s.coupons = st.coupons
	s.orders = st.orders
	s.events = st.events
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.snapshot()
	if err := fn(ctx, memTx{s}); err != nil {
		s.restore(st)
		return err
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (s *memStore) ListByUser(_ context.Context, userID string, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.products
	if s.staleProducts != nil {
		src = s.staleProducts
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := src[id]; ok {
			out = append(out, cloneProduct(p))
		}
	}
	return out, nil
}

func (s *memStore) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.coupons
	if s.staleCoupons != nil {
		src = s.staleCoupons
	}
	for _, c := range src {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (s *memStore) FindForUser(_ context.Context, id, userID string) (*address.Address, error) {
	a, ok := s.addresses[id]
	if !ok || a.UserID != userID {
		return nil, address.ErrNotFound
	}
	return &a, nil
}

func (s *memStore) ListByOrder(_ context.Context, orderID string) ([]tracking.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []tracking.Event
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) stock(productID, variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.products[productID]
	if variantID != "" {
		v, _ := p.Variant(variantID)
		return v.Stock
	}
	return p.Stock
}

func (s *memStore) usedCount(couponID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[couponID].UsedCount
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) labels(orderID string) []string {
	events, _ := s.ListByOrder(context.Background(), orderID)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Label
	}
	return out
}

// memTx runs with memStore.mu held.
type memTx struct{ s *memStore }

func (t memTx) InsertOrder(_ context.Context, o *Order) error {
	if t.s.numberClashes > 0 {
		t.s.numberClashes--
		return ErrNumberTaken
	}
	for _, existing := range t.s.orders {
		if existing.Number == o.Number {
			return ErrNumberTaken
		}
		if o.PaymentID != "" && existing.PaymentID == o.PaymentID {
			return ErrPaymentRecorded
		}
	}
	row := *o
	row.Items = nil
	t.s.orders[o.ID] = row
	return nil
}

func (t memTx) InsertItems(_ context.Context, items []Item) error {
	for _, item := range items {
		o, ok := t.s.orders[item.OrderID]
		if !ok {
			return errors.Errorf("order %s not inserted", item.OrderID)
		}
		o.Items = append(o.Items, item)
		t.s.orders[item.OrderID] = o
	}
	return nil
}

func (t memTx) adjust(productID, variantID string, delta int) error {
	t.s.stockTouches = append(t.s.stockTouches, productID+"/"+variantID)
	p, ok := t.s.products[productID]
	if !ok {
		return ErrOutOfStock
	}
	if variantID != "" {
		v, ok := p.Variant(variantID)
		if !ok || v.Stock+delta < 0 {
			return ErrOutOfStock
		}
		v.Stock += delta
	}
	if p.Stock+delta < 0 {
		return ErrOutOfStock
	}
	p.Stock += delta
	t.s.products[productID] = p
	return nil
}

func (t memTx) DeductStock(_ context.Context, productID, variantID string, qty int) error {
	return t.adjust(productID, variantID, -qty)
}

func (t memTx) RestoreStock(_ context.Context, productID, variantID string, qty int) error {
	return t.adjust(productID, variantID, qty)
}

func (t memTx) ClaimCoupon(_ context.Context, couponID string) error {
	c, ok := t.s.coupons[couponID]
	if !ok || (c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit) {
		return coupon.ErrExhausted
	}
	c.UsedCount++
	t.s.coupons[couponID] = c
	return nil
}

func (t memTx) LockOrder(_ context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (t memTx) UpdateStatus(_ context.Context, id string, status Status, pay PaymentStatus, at time.Time) error {
	o, ok := t.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.PaymentStatus = pay
	o.UpdatedAt = at
	t.s.orders[id] = o
	return nil
}

func (t memTx) AppendEvent(_ context.Context, e tracking.Event) error {
	if t.s.failAppend != nil {
		return t.s.failAppend
	}
	t.s.events = append(t.s.events, e)
	return nil
}
