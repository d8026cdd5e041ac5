package repository

import (
	"context"
	"time"

	"citizen-access-plane/internal/otp/domain"
)

// Repository defines persistence for the append-only OTP challenge log.
type Repository interface {
	Create(ctx context.Context, c *domain.Challenge) error
	// LatestIssued returns the most recently issued challenge for the
	// session, or nil if none. Verification always targets this row.
	LatestIssued(ctx context.Context, sessionID string) (*domain.Challenge, error)
	// CountFailedSince returns the number of failed rows since the given time
	// matching the session id, the ip hash, or the phone hash. Empty hashes
	// are ignored.
	CountFailedSince(ctx context.Context, sessionID, ipHash, phoneHash string, since time.Time) (int, error)
	// MarkVerified flips an issued row to verified.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
}
