package domain

import "time"

// ChallengeStatus is the state of one challenge log row.
type ChallengeStatus string

const (
	// StatusIssued: code generated and queued for delivery. The most recent
	// issued row is the live challenge for its session.
	StatusIssued ChallengeStatus = "issued"
	// StatusVerified: the code on this row matched.
	StatusVerified ChallengeStatus = "verified"
	// StatusFailed: a verification attempt failed; ErrorCode says why.
	StatusFailed ChallengeStatus = "failed"
)

// Error codes recorded on failed rows.
const (
	ErrorCodeExpired  = "expired"
	ErrorCodeMismatch = "mismatch"
)

// Challenge is one row of the append-only OTP log: an issued code or a failed
// verification event. The rolling failed count over a lookback window drives
// lockout; deriving it from the log keeps rate limiting auditable and free of
// mutable-counter races.
type Challenge struct {
	ID          string
	SessionID   string
	CodeHash    string
	Status      ChallengeStatus
	IPHash      string
	PhoneHash   string
	ErrorCode   string
	Attempt     int
	ExpiresAt   time.Time
	RequestedAt time.Time
	VerifiedAt  *time.Time
}
