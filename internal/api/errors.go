package api

import (
	"errors"
	"net/http"

	"github.com/supperclub/clubdesk/internal/booking"
	"github.com/supperclub/clubdesk/internal/ledger"
	"github.com/supperclub/clubdesk/internal/messaging"
	"github.com/supperclub/clubdesk/internal/payments"
	"github.com/supperclub/clubdesk/internal/pos"
	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/validate"
)

// fail maps a service error onto a status code and error envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validate.Error
	if errors.As(err, &ve) {
		body := map[string]any{"message": ve.Message, "type": "validation_error", "code": http.StatusUnprocessableEntity}
		if ve.Field != "" {
			body["param"] = ve.Field
			body["message"] = ve.Error()
		}
		server.JSON(w, http.StatusUnprocessableEntity, map[string]any{"error": body})
		return
	}

	var pe *payments.Error
	var posErr *pos.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		server.TypedError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		server.TypedError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, validate.ErrConflict):
		server.TypedError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, booking.ErrHoldRequired):
		server.TypedError(w, http.StatusPaymentRequired, "hold_required", err.Error())
	case errors.Is(err, booking.ErrPaymentFailed):
		server.TypedError(w, http.StatusPaymentRequired, "card_error", err.Error())
	case errors.Is(err, messaging.ErrSendFailed):
		server.TypedError(w, http.StatusBadGateway, "sms_error", err.Error())
	case errors.Is(err, ledger.ErrPOSDisabled):
		server.TypedError(w, http.StatusServiceUnavailable, "pos_disabled", err.Error())
	case errors.Is(err, payments.ErrNotConfigured):
		server.TypedError(w, http.StatusServiceUnavailable, "payments_disabled", err.Error())
	case errors.As(err, &pe), errors.As(err, &posErr):
		h.log.Warn("upstream error", "method", r.Method, "path", r.URL.Path, "err", err)
		server.TypedError(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		server.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := server.Decode(r, v); err != nil {
		server.TypedError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, message string) {
	server.TypedError(w, http.StatusBadRequest, "invalid_request_error", message)
}
