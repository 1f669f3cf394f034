package handler

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/optic-orders/internal/domain/order"
)

// UpdateStatus handles PATCH /api/admin/orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var status, message string
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			status, err = d.Str()
		case "message":
			message, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, errBadJSON)
		return
	}

	o, err := h.orders.AdvanceStatus(r.Context(), chi.URLParam(r, "id"), order.Status(status), message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, r, o)
}

// Refund handles POST /api/admin/orders/{id}/refund. The body is optional.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, r, errBadJSON)
		return
	}
	var message string
	if len(bytes.TrimSpace(data)) > 0 {
		err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
			if key == "message" {
				var err error
				message, err = optString(d)
				return err
			}
			return d.Skip()
		})
		if err != nil {
			writeError(w, r, errBadJSON)
			return
		}
	}

	o, err := h.orders.Refund(r.Context(), chi.URLParam(r, "id"), message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, r, o)
}

func writeOrder(w http.ResponseWriter, r *http.Request, o *order.Order) {
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
		})
	})
}
