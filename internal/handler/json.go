package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/optic-orders/internal/domain/order"
	"github.com/xenking/optic-orders/internal/domain/tracking"
)

var errBadJSON = errors.New("invalid request body")

// readBody reads the request body, bounded by the handler's size limit.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return nil, errBadJSON
	}
	if len(data) == 0 {
		return nil, errBadJSON
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// optString reads a string that may be null.
func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeItems(d *jx.Decoder) ([]order.LineRequest, error) {
	var items []order.LineRequest
	err := d.Arr(func(d *jx.Decoder) error {
		var item order.LineRequest
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				item.ProductID, err = d.Str()
			case "variantId":
				item.VariantID, err = optString(d)
			case "quantity":
				item.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		})
		items = append(items, item)
		return err
	})
	return items, err
}

// decodeIntent reads the shared order-intent fields.
func decodeIntent(d *jx.Decoder, req *order.PlaceOrderRequest) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "addressId":
			req.AddressID, err = d.Str()
		case "paymentMethod":
			var m string
			m, err = d.Str()
			req.PaymentMethod = order.PaymentMethod(m)
		case "couponCode":
			req.CouponCode, err = optString(d)
		case "notes":
			req.Notes, err = optString(d)
		case "items":
			req.Items, err = decodeItems(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Num(jx.Num(o.Subtotal.StringFixed(2))) })
		e.Field("discount", func(e *jx.Encoder) { e.Num(jx.Num(o.Discount.StringFixed(2))) })
		e.Field("shippingCharge", func(e *jx.Encoder) { e.Num(jx.Num(o.ShippingCharge.StringFixed(2))) })
		e.Field("total", func(e *jx.Encoder) { e.Num(jx.Num(o.Total.StringFixed(2))) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		if o.PaymentID != "" {
			e.Field("paymentId", func(e *jx.Encoder) { e.Str(o.PaymentID) })
		}
		e.Field("addressId", func(e *jx.Encoder) { e.Str(o.AddressID) })
		e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					encodeItem(e, item)
				}
			})
		})
	})
}

func encodeItem(e *jx.Encoder, item order.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(item.ID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
		if item.VariantID != "" {
			e.Field("variantId", func(e *jx.Encoder) { e.Str(item.VariantID) })
		}
		e.Field("name", func(e *jx.Encoder) { e.Str(item.ProductName) })
		e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(item.Price.StringFixed(2))) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
	})
}

func encodeEvent(e *jx.Encoder, ev tracking.Event) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(ev.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(ev.Label) })
		e.Field("message", func(e *jx.Encoder) { e.Str(ev.Message) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, ev.CreatedAt) })
	})
}
