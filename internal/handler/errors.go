package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/order"
	"github.com/xenking/optic-orders/internal/domain/payment"
)

// statusOf maps a service error to an HTTP status and a client-safe message.
func statusOf(err error) (int, string) {
	var (
		validation *order.ValidationError
		quantity   *order.InvalidQuantityError
		unavail    *order.UnavailableError
		transition *order.InvalidTransitionError
		minimum    *coupon.MinimumNotMetError
	)
	switch {
	case errors.Is(err, errBadJSON):
		return http.StatusBadRequest, errBadJSON.Error()
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.As(err, &quantity):
		return http.StatusBadRequest, quantity.Error()
	case errors.As(err, &unavail):
		return http.StatusBadRequest, unavail.Error()
	case errors.As(err, &transition):
		return http.StatusBadRequest, transition.Error()
	case errors.As(err, &minimum):
		return http.StatusBadRequest, minimum.Error()
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrProductsUnavailable),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, coupon.ErrExhausted),
		errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, address.ErrNotFound):
		// The address belongs to the request body, not the path.
		return http.StatusBadRequest, "invalid address"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, payment.ErrAlreadyUsed):
		return http.StatusConflict, payment.ErrAlreadyUsed.Error()
	case errors.Is(err, order.ErrCommitFailed):
		return http.StatusInternalServerError, order.ErrCommitFailed.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError renders err as {"error": msg}. Server errors are logged with
// their cause; the cause never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeMessage(w, r, status, msg)
}
