package domain

import "errors"

// Sentinel errors for session access; the HTTP layer maps them to status
// codes. Both the session manager and the OTP verifier return these.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionLocked   = errors.New("session locked")
	ErrSessionRevoked  = errors.New("session revoked")
	// ErrSessionReadOnly: mutation attempted before OTP verification.
	ErrSessionReadOnly = errors.New("session is read-only until OTP verification")
)
