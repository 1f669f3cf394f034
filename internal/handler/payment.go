package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/optic-orders/internal/domain/auth"
	"github.com/xenking/optic-orders/internal/domain/order"
)

// CreateIntent handles POST /api/payments/intent. The cart is priced
// server side and the total registered with the gateway; nothing is stored.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := order.PlaceOrderRequest{UserID: id.UserID, PaymentMethod: order.PaymentOnline}
	if err := decodeIntent(jx.DecodeBytes(body), &req); err != nil {
		writeError(w, r, errBadJSON)
		return
	}

	intent, err := h.orders.CreateIntent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	gw := intent.GatewayOrder
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("razorpayOrderId", func(e *jx.Encoder) { e.Str(gw.ID) })
			e.Field("amount", func(e *jx.Encoder) { e.Int64(gw.Amount) })
			e.Field("currency", func(e *jx.Encoder) { e.Str(gw.Currency) })
			e.Field("keyId", func(e *jx.Encoder) { e.Str(h.keyID) })
			e.Field("total", func(e *jx.Encoder) { e.Num(jx.Num(intent.Quote.Total.StringFixed(2))) })
		})
	})
}

// VerifyPayment handles POST /api/payments/verify. The order is created only
// after the gateway signature checks out.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c := order.PaymentConfirmation{
		Intent: order.PlaceOrderRequest{UserID: id.UserID, PaymentMethod: order.PaymentOnline},
	}
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "razorpayPaymentId":
			c.GatewayPaymentID, err = d.Str()
		case "razorpayOrderId":
			c.GatewayOrderID, err = d.Str()
		case "razorpaySignature":
			c.Signature, err = d.Str()
		case "orderData":
			err = decodeIntent(d, &c.Intent)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, errBadJSON)
		return
	}
	// The payment method is fixed by the endpoint, not the payload.
	c.Intent.PaymentMethod = order.PaymentOnline

	o, err := h.orders.ConfirmPayment(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("order", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
					e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
				})
			})
		})
	})
}
