// Package handler exposes the order service over HTTP using chi routing and
// jx request/response codecs.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/optic-orders/internal/domain/order"
	"github.com/xenking/optic-orders/internal/domain/tracking"
)

// Orders is the subset of *order.Service used by the HTTP layer.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	ConfirmPayment(ctx context.Context, c order.PaymentConfirmation) (*order.Order, error)
	CreateIntent(ctx context.Context, req order.PlaceOrderRequest) (*order.Intent, error)
	Cancel(ctx context.Context, userID, orderID string) (*order.Order, error)
	AdvanceStatus(ctx context.Context, orderID string, next order.Status, message string) (*order.Order, error)
	Refund(ctx context.Context, orderID, message string) (*order.Order, error)
	Get(ctx context.Context, userID, orderID string) (*order.Order, error)
	List(ctx context.Context, userID string) ([]order.Order, error)
	Tracking(ctx context.Context, userID, orderID string) ([]tracking.Event, error)
}

var _ Orders = (*order.Service)(nil)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// GatewayKeyID is the public Razorpay key handed to checkout clients.
	GatewayKeyID string
	// MaxBodyBytes caps request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the order endpoints.
type Handler struct {
	orders       Orders
	keyID        string
	maxBodyBytes int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, orders Orders) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		orders:       orders,
		keyID:        cfg.GatewayKeyID,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Routes mounts every endpoint on r. authn must attach an auth.Identity to
// the request context or reject the request.
func (h *Handler) Routes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(authn)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.PlaceOrder)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}", h.PatchOrder)
			r.Get("/{id}/tracking", h.GetTracking)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/intent", h.CreateIntent)
			r.Post("/verify", h.VerifyPayment)
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Patch("/{id}/status", h.UpdateStatus)
			r.Post("/{id}/refund", h.Refund)
		})
	})
}
