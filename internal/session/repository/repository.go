package repository

import (
	"context"
	"time"

	"citizen-access-plane/internal/session/domain"
)

// Repository defines persistence for citizen sessions. All state transitions
// are conditional single-row updates (old status checked in the WHERE clause)
// so that concurrent transitions on the same row cannot both win; callers use
// the returned bool to learn whether their transition applied.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.CitizenSession, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.CitizenSession, error)
	Create(ctx context.Context, s *domain.CitizenSession) error
	// RevokeLive revokes every pending/active session for the case whose
	// expiry has not passed, and flips pending/active rows past their expiry
	// to expired so the one-live-per-case index cannot block a new insert.
	// Returns the number of sessions revoked.
	RevokeLive(ctx context.Context, caseID string, at time.Time) (int, error)
	// MarkVerified transitions pending -> active with the given verification
	// time, only if the session is still pending and unexpired.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkLocked transitions pending/active -> locked.
	MarkLocked(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkExpired transitions pending/active -> expired (lazy expiry).
	MarkExpired(ctx context.Context, id string) (bool, error)
	// Touch records a resolution: bumps last_used_at, reuse_count, and the
	// caller's IP hash.
	Touch(ctx context.Context, id string, at time.Time, ipHash string) error
}
