package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nebula-ai/nebula-server/internal/errs"
)

// writeJSON writes the success envelope with extra fields merged in.
func writeJSON(w http.ResponseWriter, status int, fields map[string]any) {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps sentinel errors to HTTP status codes and client-safe
// messages. Anything unmapped is an internal error; its text never
// reaches the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusBadRequest, "username already taken"
	case errors.Is(err, errs.ErrInvalidCredentials):
		return http.StatusUnauthorized, errs.ErrInvalidCredentials.Error()
	case errors.Is(err, errs.ErrAccountDisabled):
		return http.StatusForbidden, errs.ErrAccountDisabled.Error()
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts, try again later"
	case errors.Is(err, errs.ErrMissingToken):
		return http.StatusUnauthorized, errs.ErrMissingToken.Error()
	case errors.Is(err, errs.ErrInvalidToken):
		return http.StatusForbidden, errs.ErrInvalidToken.Error()
	case errors.Is(err, errs.ErrInvalidSession):
		return http.StatusUnauthorized, errs.ErrInvalidSession.Error()
	case errors.Is(err, errs.ErrNoPasskeys):
		return http.StatusNotFound, errs.ErrNoPasskeys.Error()
	case errors.Is(err, errs.ErrPasskeyNotFound):
		return http.StatusNotFound, errs.ErrPasskeyNotFound.Error()
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, errs.ErrTwoFactorEnabled),
		errors.Is(err, errs.ErrTwoFactorNotEnabled),
		errors.Is(err, errs.ErrNoTOTPSecret),
		errors.Is(err, errs.ErrInvalidTOTPCode),
		errors.Is(err, errs.ErrNoChallenge),
		errors.Is(err, errs.ErrVerificationFailed):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError converts an error to the JSON error envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
