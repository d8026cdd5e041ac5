package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"citizen-access-plane/internal/otp"
	sessiondomain "citizen-access-plane/internal/session/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(code, message string) map[string]string {
	return map[string]string{"error": code, "message": message}
}

// writeError maps domain sentinel errors to HTTP statuses. Unknown errors are
// logged and surfaced as a generic 500 so internals never leak to citizens.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, sessiondomain.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("session_not_found", "no session for this link"))
	case errors.Is(err, sessiondomain.ErrSessionExpired):
		writeJSON(w, http.StatusGone, errorBody("session_expired", "this link has expired; request a new invite"))
	case errors.Is(err, sessiondomain.ErrSessionLocked):
		writeJSON(w, http.StatusLocked, errorBody("session_locked", "too many failed attempts; request a new invite"))
	case errors.Is(err, sessiondomain.ErrSessionRevoked):
		writeJSON(w, http.StatusForbidden, errorBody("session_revoked", "this link was replaced by a newer invite"))
	case errors.Is(err, sessiondomain.ErrSessionReadOnly):
		writeJSON(w, http.StatusForbidden, errorBody("session_read_only", "verify your phone number to make changes"))
	case errors.Is(err, otp.ErrChallengeExpired):
		writeJSON(w, http.StatusGone, errorBody("challenge_expired", "the code has expired; request a new one"))
	case errors.Is(err, otp.ErrChallengeMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("challenge_mismatch", "the code did not match"))
	case errors.Is(err, otp.ErrPhoneRequired):
		writeJSON(w, http.StatusBadRequest, errorBody("phone_required", "a phone number is required"))
	default:
		if logger != nil {
			logger.Error("internal error", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, errorBody("internal", "something went wrong"))
	}
}
