package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/audit"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failed request.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// StatusFor maps a gateway error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	var rlErr *authgate.RateLimitError
	switch {
	case errors.As(err, &rlErr), errors.Is(err, authgate.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, authgate.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, authgate.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, authgate.ErrCSRFMismatch):
		return http.StatusForbidden, "csrf_mismatch"
	case errors.Is(err, authgate.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, authgate.ErrBlocked):
		return http.StatusForbidden, "blocked"
	case errors.Is(err, authgate.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, authgate.ErrUserNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, authgate.ErrRegistrationUnsupported), errors.Is(err, authgate.ErrResetUnsupported), errors.Is(err, audit.ErrReadUnsupported):
		return http.StatusNotImplemented, "not_implemented"
	case errors.Is(err, authgate.ErrUnavailable), errors.Is(err, authgate.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError renders err as a JSON error response. Rate limit errors also
// set Retry-After.
func WriteError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	body := ErrorBody{Error: ErrorDetail{Code: code, Message: publicMessage(status, err)}}

	var rlErr *authgate.RateLimitError
	if errors.As(err, &rlErr) {
		secs := rlErr.RetryAfterSeconds()
		body.Error.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	WriteJSON(w, status, body)
}

// publicMessage keeps internal detail out of responses. Validation and
// rate limit messages are safe to echo.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusTooManyRequests:
		return err.Error()
	case http.StatusUnauthorized:
		if errors.Is(err, authgate.ErrAuthenticationFailed) {
			return authgate.ErrAuthenticationFailed.Error()
		}
		return authgate.ErrUnauthorized.Error()
	case http.StatusForbidden:
		if errors.Is(err, authgate.ErrBlocked) {
			return authgate.ErrBlocked.Error()
		}
		if errors.Is(err, authgate.ErrCSRFMismatch) {
			return "csrf token mismatch"
		}
		return authgate.ErrForbidden.Error()
	default:
		return http.StatusText(status)
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
