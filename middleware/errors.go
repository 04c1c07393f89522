package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labcore/authcore"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeBadRequest            = "bad_request"
	CodeAuthenticationFailed  = "authentication_failed"
	CodeInvalidToken          = "invalid_token"
	CodeExpiredToken          = "expired_token"
	CodeRevokedToken          = "revoked_token"
	CodeAccountLocked         = "account_locked"
	CodePermissionDenied      = "permission_denied"
	CodeRateLimitExceeded     = "rate_limit_exceeded"
	CodeServiceUnavailable    = "service_unavailable"
	CodeInternal              = "internal_error"
	CodeUnprocessableRequest  = "unprocessable_request"
	messageInvalidCredentials = "invalid email or password"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write; the client may be gone.
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes an Error body.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// Classify maps an engine error to its HTTP status, code and client
// message. Messages never include internal causes.
func Classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, authcore.ErrAuthenticationFailed):
		return http.StatusUnauthorized, CodeAuthenticationFailed, messageInvalidCredentials
	case errors.Is(err, authcore.ErrExpiredToken):
		return http.StatusUnauthorized, CodeExpiredToken, "token expired"
	case errors.Is(err, authcore.ErrRevokedToken):
		return http.StatusUnauthorized, CodeRevokedToken, "token revoked"
	case errors.Is(err, authcore.ErrInvalidToken):
		return http.StatusUnauthorized, CodeInvalidToken, "invalid token"
	case errors.Is(err, authcore.ErrAccountLocked):
		return http.StatusLocked, CodeAccountLocked, "account locked"
	case errors.Is(err, authcore.ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied, "permission denied"
	case errors.Is(err, authcore.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded"
	case errors.Is(err, authcore.ErrRoleRejected):
		return http.StatusUnprocessableEntity, CodeUnprocessableRequest, "role rejected"
	case errors.Is(err, authcore.ErrStoreUnavailable), errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable, CodeServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

// WriteEngineError writes the response Classify selects for err.
func WriteEngineError(w http.ResponseWriter, err error) {
	status, code, message := Classify(err)
	WriteError(w, status, code, message)
}
