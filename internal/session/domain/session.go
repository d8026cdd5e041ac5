package domain

import "time"

// Status is the lifecycle state of a citizen session.
type Status string

const (
	// StatusPending: invite issued, OTP not yet verified. Read-only access.
	StatusPending Status = "pending"
	// StatusActive: OTP verified; mutations allowed until expiry.
	StatusActive Status = "active"
	// StatusExpired: expiry elapsed, detected lazily on access. Terminal.
	StatusExpired Status = "expired"
	// StatusLocked: failed-OTP threshold reached. Terminal; recovery requires a fresh invite.
	StatusLocked Status = "locked"
	// StatusRevoked: superseded by a newer invite for the same case. Terminal.
	StatusRevoked Status = "revoked"
)

// CitizenSession is one citizen's access grant to one case, created by invite
// issuance and authenticated by possession of the invite token. Rows are never
// deleted; terminal states are reachable but not exited.
type CitizenSession struct {
	ID            string
	CaseID        string
	TokenHash     string
	PhoneHash     string
	Status        Status
	ExpiresAt     time.Time
	OTPVerifiedAt *time.Time // nil until the second factor succeeds
	LockedAt      *time.Time
	LastUsedAt    *time.Time
	CenterID      string
	ReuseCount    int
	LastIPHash    string
	CreatedAt     time.Time
}

// Live reports whether the session is in a non-terminal state. Expiry is a
// separate, time-based check: a live session past ExpiresAt is treated as
// expired by callers.
func (s *CitizenSession) Live() bool {
	return s.Status == StatusPending || s.Status == StatusActive
}

// ExpiredAt reports whether the session's expiry has elapsed at the given time.
func (s *CitizenSession) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Verified reports whether the session has passed OTP verification.
func (s *CitizenSession) Verified() bool {
	return s.OTPVerifiedAt != nil
}
