package httpx

import (
	"errors"
	"net/http"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/ariefcatur/go-grocery-orders/internal/payment"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Reference  string   `json:"reference,omitempty"`
}

func statusFor(err error) int {
	var (
		verr  *apperr.ValidationError
		aerr  *apperr.AuthError
		serr  *apperr.StockError
		slerr *apperr.SlotError
		cerr  *apperr.CouponError
		conf  *apperr.ConflictError
		perr  *apperr.PaymentError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &aerr):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &serr), errors.As(err, &slerr), errors.As(err, &conf):
		return http.StatusConflict
	case errors.As(err, &cerr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &perr):
		return http.StatusPaymentRequired
	case errors.Is(err, payment.ErrGatewayUnavailable), errors.Is(err, orders.ErrNoPaymentGateway):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to responses. Partial failures expose only a support
// reference; the internal step stays in the logs.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}

	var (
		pf   *apperr.PartialFailureError
		verr *apperr.ValidationError
		cerr *apperr.CouponError
	)
	switch {
	case errors.As(err, &pf):
		body = errorBody{Error: pf.PublicMessage(), Reference: pf.OrderID}
		var serr *apperr.StockError
		if errors.As(pf.Err, &serr) {
			body.Error = serr.Error() + "; " + pf.PublicMessage()
		}
	case errors.As(err, &verr):
		body = errorBody{Error: "validation failed", Violations: verr.Violations}
	case errors.As(err, &cerr):
		body.Code = cerr.Reason
	}
	if code == http.StatusInternalServerError && pf == nil {
		body = errorBody{Error: "internal error"}
	}

	ev := log.Warn()
	if code >= 500 || pf != nil {
		ev = log.Error()
	}
	ev.Err(err).Str("request_id", middleware.GetReqID(r.Context())).Int("status", code).Msg("request failed")
	writeJSON(w, code, body)
}
