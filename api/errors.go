package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/warp/payout-engine/factory"
	"github.com/warp/payout-engine/payout"
)

// kindUnauthorized is used by the auth middleware only; the engine never
// sees an unauthenticated caller.
const kindUnauthorized payout.Kind = "unauthorized"

// ErrorBody is the envelope of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    payout.Kind `json:"kind"`
	Message string      `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind payout.Kind) int {
	switch kind {
	case payout.KindInvalidInput:
		return http.StatusBadRequest
	case kindUnauthorized:
		return http.StatusUnauthorized
	case payout.KindForbidden:
		return http.StatusForbidden
	case payout.KindNotFound:
		return http.StatusNotFound
	case payout.KindInvalidTransition, payout.KindConflict:
		return http.StatusConflict
	case payout.KindPeriodLocked:
		return http.StatusLocked
	case payout.KindEmptyImport, payout.KindMalformedPercentage, payout.KindUnresolvableAddress:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err and writes the envelope. Engine failures are
// logged and hidden behind a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := payout.KindOf(err)
	msg := err.Error()
	if !payout.IsClientError(err) {
		h.logger().ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
		)
		msg = "internal error"
	}
	writeJSON(w, statusFor(kind), ErrorBody{Error: ErrorDetail{Kind: kind, Message: msg}})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="payout"`)
	writeJSON(w, http.StatusUnauthorized, ErrorBody{Error: ErrorDetail{Kind: kindUnauthorized, Message: msg}})
}

// invalid wraps a decoding or validation failure as invalid input.
func invalid(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return &inputError{msg: factory.Describe(err)}
	}
	return &inputError{msg: err.Error()}
}

type inputError struct{ msg string }

func (e *inputError) Error() string { return payout.ErrInvalidField.Error() + ": " + e.msg }
func (e *inputError) Unwrap() error { return payout.ErrInvalidField }

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
