package order

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/payment"
	"github.com/xenking/optic-orders/internal/domain/pricing"
	"github.com/xenking/optic-orders/internal/domain/product"
	"github.com/xenking/optic-orders/internal/domain/tracking"
)

const (
	maxNumberAttempts = 5
	defaultReplayTTL  = 7 * 24 * time.Hour
	defaultListLimit  = 50
	notifyTimeout     = 5 * time.Second
)

// SignatureVerifier authenticates a gateway payment confirmation.
type SignatureVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) error
}

// Deps holds the collaborators of Service.
type Deps struct {
	Store     Store
	Products  product.Repository
	Addresses address.Repository
	Coupons   coupon.Repository
	Ledger    tracking.Repository
	Pricing   *pricing.Engine
	Numbers   *NumberGenerator

	Verifier SignatureVerifier
	Replay   payment.ReplayGuard
	Gateway  payment.Gateway
	Currency string
	// ReplayTTL is how long a settled gateway payment id is remembered.
	ReplayTTL time.Duration

	// Notifier is optional.
	Notifier Notifier

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service implements order placement, payment settlement and the order
// lifecycle.
type Service struct {
	store     Store
	products  product.Repository
	addresses address.Repository
	coupons   coupon.Repository
	ledger    tracking.Repository
	pricing   *pricing.Engine
	numbers   *NumberGenerator
	verifier  SignatureVerifier
	replay    payment.ReplayGuard
	gateway   payment.Gateway
	currency  string
	replayTTL time.Duration
	notifier  Notifier
	now       func() time.Time

	tracer            trace.Tracer
	placed            metric.Int64Counter
	cancelled         metric.Int64Counter
	commitFailures    metric.Int64Counter
	signatureRejected metric.Int64Counter
}

// NewService creates a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("order store is required")
	case deps.Products == nil, deps.Addresses == nil, deps.Coupons == nil, deps.Ledger == nil:
		return nil, errors.New("catalog, address, coupon and ledger repositories are required")
	case deps.Numbers == nil:
		return nil, errors.New("order number generator is required")
	}

	s := &Service{
		store:     deps.Store,
		products:  deps.Products,
		addresses: deps.Addresses,
		coupons:   deps.Coupons,
		ledger:    deps.Ledger,
		pricing:   deps.Pricing,
		numbers:   deps.Numbers,
		verifier:  deps.Verifier,
		replay:    deps.Replay,
		gateway:   deps.Gateway,
		currency:  deps.Currency,
		replayTTL: deps.ReplayTTL,
		notifier:  deps.Notifier,
		now:       time.Now,
	}
	if s.pricing == nil {
		s.pricing = pricing.NewEngine()
	}
	if s.replay == nil {
		s.replay = payment.NewMemoryGuard()
	}
	if s.replayTTL <= 0 {
		s.replayTTL = defaultReplayTTL
	}
	if s.currency == "" {
		s.currency = "INR"
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}

	mp := deps.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	s.tracer = tp.Tracer("optic-orders/order")

	meter := mp.Meter("optic-orders/order")
	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed")); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if s.cancelled, err = meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled")); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled counter")
	}
	if s.commitFailures, err = meter.Int64Counter("orders.commit_failures",
		metric.WithDescription("Order commit transactions aborted by unexpected errors")); err != nil {
		return nil, errors.Wrap(err, "orders.commit_failures counter")
	}
	if s.signatureRejected, err = meter.Int64Counter("payments.signature_rejected",
		metric.WithDescription("Payment confirmations with an invalid signature")); err != nil {
		return nil, errors.Wrap(err, "payments.signature_rejected counter")
	}

	return s, nil
}

// PlaceOrder validates, prices and commits a cash-on-delivery order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer func() { endSpan(span, rerr) }()

	if req.PaymentMethod != PaymentCOD {
		return nil, &ValidationError{Field: "paymentMethod", Reason: "only COD orders can be placed without payment"}
	}
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}

	cart, err := s.intake(ctx, req)
	if err != nil {
		return nil, err
	}
	quote, err := s.pricing.Quote(cart.pricingLines(), cart.coupon, s.now())
	if err != nil {
		return nil, err
	}

	o := s.newOrder(req, cart, quote)
	o.Status = StatusPending
	o.PaymentStatus = PaymentPending

	if err := s.commit(ctx, o, cart, tracking.LabelPlaced, ""); err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod))))
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("total", o.Total.StringFixed(2)),
	)
	s.notify(ctx, EventPlaced, o)
	return o, nil
}

// PaymentConfirmation is a signed gateway callback plus the order intent the
// payment was initiated for.
type PaymentConfirmation struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Intent           PlaceOrderRequest
}

// ConfirmPayment authenticates the gateway signature and only then prices
// the intent from the catalog and commits a CONFIRMED, PAID order.
func (s *Service) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ConfirmPayment")
	defer func() { endSpan(span, rerr) }()

	if s.verifier == nil {
		return nil, errors.New("payment verifier is not configured")
	}

	req := c.Intent
	req.PaymentMethod = PaymentOnline
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}

	if err := s.verifier.Verify(c.GatewayOrderID, c.GatewayPaymentID, c.Signature); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			s.signatureRejected.Add(ctx, 1)
			zctx.From(ctx).Warn("Payment signature rejected",
				zap.String("gateway_order_id", c.GatewayOrderID),
				zap.String("gateway_payment_id", c.GatewayPaymentID),
			)
		}
		return nil, err
	}

	claimed, err := s.replay.Claim(ctx, c.GatewayPaymentID, s.replayTTL)
	if err != nil {
		return nil, errors.Wrap(err, "claim payment id")
	}
	if !claimed {
		return nil, payment.ErrAlreadyUsed
	}
	settled := false
	defer func() {
		if settled {
			return
		}
		if err := s.replay.Release(context.WithoutCancel(ctx), c.GatewayPaymentID); err != nil {
			zctx.From(ctx).Warn("Release payment claim", zap.Error(err))
		}
	}()

	cart, err := s.intake(ctx, req)
	if err != nil {
		return nil, err
	}
	quote, err := s.pricing.Quote(cart.pricingLines(), cart.coupon, s.now())
	if err != nil {
		return nil, err
	}

	o := s.newOrder(req, cart, quote)
	o.Status = StatusConfirmed
	o.PaymentStatus = PaymentPaid
	o.PaymentID = c.GatewayPaymentID
	o.GatewayOrderID = c.GatewayOrderID

	if err := s.commit(ctx, o, cart, tracking.LabelConfirmed, "Payment "+c.GatewayPaymentID+" verified"); err != nil {
		return nil, err
	}
	settled = true

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod))))
	zctx.From(ctx).Info("Paid order confirmed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("gateway_payment_id", o.PaymentID),
	)
	s.notify(ctx, EventPlaced, o)
	return o, nil
}

// Intent is a priced cart registered with the payment gateway.
type Intent struct {
	GatewayOrder *payment.GatewayOrder
	Quote        pricing.Quote
}

// CreateIntent validates and prices the cart and registers the total with
// the payment gateway. It does not write to the order store.
func (s *Service) CreateIntent(ctx context.Context, req PlaceOrderRequest) (_ *Intent, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateIntent")
	defer func() { endSpan(span, rerr) }()

	if s.gateway == nil {
		return nil, errors.New("payment gateway is not configured")
	}

	req.PaymentMethod = PaymentOnline
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}
	cart, err := s.intake(ctx, req)
	if err != nil {
		return nil, err
	}
	quote, err := s.pricing.Quote(cart.pricingLines(), cart.coupon, s.now())
	if err != nil {
		return nil, err
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, quote.Total, s.currency, uuid.NewString())
	if err != nil {
		return nil, errors.Wrap(err, "create gateway order")
	}
	return &Intent{GatewayOrder: gwOrder, Quote: quote}, nil
}

// Cancel cancels the user's order if it is still PENDING or CONFIRMED,
// restoring stock for every item. Coupon usage is kept.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, rerr) }()

	var out *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}
		if !Cancellable(o.Status) {
			return &InvalidTransitionError{From: string(o.Status), To: string(StatusCancelled)}
		}
		if err := s.withdraw(ctx, tx, o, StatusCancelled, "", true); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", "customer")))
	zctx.From(ctx).Info("Order cancelled", zap.String("order_id", out.ID), zap.String("order_number", out.Number))
	s.notify(ctx, EventCancelled, out)
	return out, nil
}

// AdvanceStatus moves an order along the status table on behalf of an
// administrator. Moves outside the table fail with *InvalidTransitionError.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, next Status, message string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.AdvanceStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.next_status", string(next)),
	))
	defer func() { endSpan(span, rerr) }()

	if !next.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", next)}
	}

	var out *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, next) {
			return &InvalidTransitionError{From: string(o.Status), To: string(next)}
		}

		switch next {
		case StatusCancelled:
			err = s.withdraw(ctx, tx, o, next, message, true)
		case StatusReturned:
			err = s.withdraw(ctx, tx, o, next, message, false)
		default:
			pay := o.PaymentStatus
			if next == StatusDelivered && o.PaymentMethod == PaymentCOD && pay == PaymentPending {
				pay = PaymentPaid
			}
			err = s.apply(ctx, tx, o, next, pay, next.Label(), message)
		}
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := EventStatusChanged
	if next == StatusCancelled {
		kind = EventCancelled
		s.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", "admin")))
	}
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", out.ID),
		zap.String("status", string(out.Status)),
		zap.String("payment_status", string(out.PaymentStatus)),
	)
	s.notify(ctx, kind, out)
	return out, nil
}

// Refund marks a paid order as refunded.
func (s *Service) Refund(ctx context.Context, orderID, message string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Refund", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, rerr) }()

	var out *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransitionPayment(o.PaymentStatus, PaymentRefunded) {
			return &InvalidTransitionError{From: string(o.PaymentStatus), To: string(PaymentRefunded)}
		}
		if err := s.apply(ctx, tx, o, o.Status, PaymentRefunded, tracking.LabelRefundProcessed, message); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order refunded", zap.String("order_id", out.ID))
	s.notify(ctx, EventRefunded, out)
	return out, nil
}

// Get returns the order if it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the user's most recent orders.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	return s.store.ListByUser(ctx, userID, defaultListLimit)
}

// Tracking returns the ledger of an order owned by userID.
func (s *Service) Tracking(ctx context.Context, userID, orderID string) ([]tracking.Event, error) {
	if _, err := s.Get(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.ledger.ListByOrder(ctx, orderID)
}

func (s *Service) newOrder(req PlaceOrderRequest, cart *checkedCart, quote pricing.Quote) *Order {
	now := s.now().UTC()
	o := &Order{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		AddressID:      cart.address.ID,
		Items:          make([]Item, len(cart.lines)),
		Subtotal:       quote.Subtotal,
		Discount:       quote.Discount,
		ShippingCharge: quote.ShippingCharge,
		Total:          quote.Total,
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if quote.Coupon != nil {
		o.CouponID = quote.Coupon.ID
		o.CouponCode = quote.Coupon.Code
	}
	for i, l := range cart.lines {
		o.Items[i] = Item{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			ProductID:   l.product.ID,
			VariantID:   l.variantID(),
			ProductName: l.displayName(),
			Price:       quote.UnitPrices[i],
			Quantity:    l.quantity,
		}
	}
	return o
}

// commit runs the order commit transaction. Stock and coupon races surface
// as *UnavailableError and coupon.ErrExhausted; anything else unexpected is
// reported as ErrCommitFailed.
func (s *Service) commit(ctx context.Context, o *Order, cart *checkedCart, label, message string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := s.insertNumbered(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, o.Items); err != nil {
			return errors.Wrap(err, "insert items")
		}
		lines := slices.Clone(cart.lines)
		slices.SortFunc(lines, func(a, b checkedLine) int {
			return compareStockKey(a.product.ID, a.variantID(), b.product.ID, b.variantID())
		})
		for _, l := range lines {
			if err := tx.DeductStock(ctx, l.product.ID, l.variantID(), l.quantity); err != nil {
				if errors.Is(err, ErrOutOfStock) {
					return &UnavailableError{ProductID: l.product.ID, ProductName: l.displayName(), Reason: "insufficient stock"}
				}
				return errors.Wrapf(err, "deduct stock for %s", l.product.ID)
			}
		}
		if o.CouponID != "" {
			if err := tx.ClaimCoupon(ctx, o.CouponID); err != nil {
				if errors.Is(err, coupon.ErrExhausted) {
					return coupon.ErrExhausted
				}
				return errors.Wrap(err, "claim coupon")
			}
		}
		if err := tx.AppendEvent(ctx, tracking.NewEvent(o.ID, label, message, o.CreatedAt)); err != nil {
			return errors.Wrap(err, "append tracking event")
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var unavailable *UnavailableError
	switch {
	case errors.As(err, &unavailable), errors.Is(err, coupon.ErrExhausted):
		return err
	case errors.Is(err, ErrPaymentRecorded):
		return payment.ErrAlreadyUsed
	}

	s.commitFailures.Add(ctx, 1)
	zctx.From(ctx).Error("Order commit failed", zap.String("order_id", o.ID), zap.Error(err))
	return &CommitError{Err: err}
}

func (s *Service) insertNumbered(ctx context.Context, tx Tx, o *Order) error {
	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Next()
		if err != nil {
			return errors.Wrap(err, "generate order number")
		}
		o.Number = number

		err = tx.InsertOrder(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNumberTaken) {
			if errors.Is(err, ErrPaymentRecorded) {
				return err
			}
			return errors.Wrap(err, "insert order")
		}
		if attempt >= maxNumberAttempts {
			return errors.Wrapf(err, "no free order number after %d attempts", attempt)
		}
		zctx.From(ctx).Debug("Order number collision, regenerating", zap.String("number", number))
	}
}

// compareStockKey orders stock rows by (product, variant). Every transaction
// that touches several stock rows locks them in this order so that two
// overlapping carts cannot deadlock.
func compareStockKey(productA, variantA, productB, variantB string) int {
	return cmp.Or(strings.Compare(productA, productB), strings.Compare(variantA, variantB))
}

// withdraw cancels or returns o inside tx.
func (s *Service) withdraw(ctx context.Context, tx Tx, o *Order, next Status, message string, restock bool) error {
	if restock {
		items := slices.Clone(o.Items)
		slices.SortFunc(items, func(a, b Item) int {
			return compareStockKey(a.ProductID, a.VariantID, b.ProductID, b.VariantID)
		})
		for _, item := range items {
			if err := tx.RestoreStock(ctx, item.ProductID, item.VariantID, item.Quantity); err != nil {
				return errors.Wrapf(err, "restore stock for %s", item.ProductID)
			}
		}
	}
	return s.apply(ctx, tx, o, next, paymentAfterWithdrawal(o.PaymentStatus), next.Label(), message)
}

// apply persists a status pair, appends the ledger entry and updates o.
func (s *Service) apply(ctx context.Context, tx Tx, o *Order, status Status, pay PaymentStatus, label, message string) error {
	now := s.now().UTC()
	if err := tx.UpdateStatus(ctx, o.ID, status, pay, now); err != nil {
		return errors.Wrap(err, "update status")
	}
	if err := tx.AppendEvent(ctx, tracking.NewEvent(o.ID, label, message, now)); err != nil {
		return errors.Wrap(err, "append tracking event")
	}
	o.Status = status
	o.PaymentStatus = pay
	o.UpdatedAt = now
	return nil
}

func (s *Service) notify(ctx context.Context, kind EventKind, o *Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, Event{Kind: kind, Order: *o, OccurredAt: s.now().UTC()}); err != nil {
		zctx.From(ctx).Warn("Order notification failed",
			zap.String("order_id", o.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
