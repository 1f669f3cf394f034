package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/optic-orders/internal/domain/auth"
	"github.com/xenking/optic-orders/internal/domain/order"
)

const msgCancelled = "Order cancelled successfully"

// PlaceOrder handles POST /api/orders for cash-on-delivery checkouts.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := order.PlaceOrderRequest{UserID: id.UserID}
	if err := decodeIntent(jx.DecodeBytes(body), &req); err != nil {
		writeError(w, r, errBadJSON)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
					e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
					e.Field("total", func(e *jx.Encoder) { e.Num(jx.Num(o.Total.StringFixed(2))) })
					e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
				})
			})
		})
	})
}

// ListOrders handles GET /api/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	orders, err := h.orders.List(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range orders {
						encodeOrder(e, &orders[i])
					}
				})
			})
		})
	})
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	o, err := h.orders.Get(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
		})
	})
}

// GetTracking handles GET /api/orders/{id}/tracking.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	events, err := h.orders.Tracking(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("events", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, ev := range events {
						encodeEvent(e, ev)
					}
				})
			})
		})
	})
}

// PatchOrder handles PATCH /api/orders/{id}. The only customer action is
// "cancel".
func (h *Handler) PatchOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var action string
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key == "action" {
			var err error
			action, err = d.Str()
			return err
		}
		return d.Skip()
	})
	if err != nil {
		writeError(w, r, errBadJSON)
		return
	}
	if action != "cancel" {
		writeError(w, r, &order.ValidationError{Field: "action", Reason: fmt.Sprintf("unsupported action %q", action)})
		return
	}

	if _, err := h.orders.Cancel(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msgCancelled) })
		})
	})
}
