package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"citizen-access-plane/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, case_id, token_hash, phone_hash, status, expires_at,
	otp_verified_at, locked_at, last_used_at, center_id, reuse_count, last_ip_hash, created_at`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.CitizenSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM citizen_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByTokenHash returns the session whose invite token digest matches, or nil if none.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.CitizenSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM citizen_sessions WHERE token_hash = $1`, tokenHash)
	return scanSession(row)
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.CitizenSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO citizen_sessions
		 (id, case_id, token_hash, phone_hash, status, expires_at, otp_verified_at,
		  locked_at, last_used_at, center_id, reuse_count, last_ip_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.CaseID, s.TokenHash,
		nullString(s.PhoneHash), string(s.Status), s.ExpiresAt,
		nullTime(s.OTPVerifiedAt), nullTime(s.LockedAt), nullTime(s.LastUsedAt),
		s.CenterID, s.ReuseCount, nullString(s.LastIPHash), s.CreatedAt)
	return err
}

// RevokeLive revokes all pending/active, unexpired sessions for the case.
// Pending/active rows whose expiry already passed (expiry is lazy, so such
// rows exist) are flipped to expired instead, so the one-live-per-case index
// never blocks the insert that follows. Returns the number revoked.
func (r *PostgresRepository) RevokeLive(ctx context.Context, caseID string, at time.Time) (int, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE citizen_sessions SET status = $1
		 WHERE case_id = $2 AND status IN ($3, $4) AND expires_at <= $5`,
		string(domain.StatusExpired), caseID,
		string(domain.StatusPending), string(domain.StatusActive), at); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE citizen_sessions SET status = $1
		 WHERE case_id = $2 AND status IN ($3, $4) AND expires_at > $5`,
		string(domain.StatusRevoked), caseID,
		string(domain.StatusPending), string(domain.StatusActive), at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkVerified transitions pending -> active if the session is still pending and unexpired.
// Returns false when another transition won (already active, locked, revoked, or expired).
func (r *PostgresRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE citizen_sessions SET status = $1, otp_verified_at = $2
		 WHERE id = $3 AND status = $4 AND expires_at > $2`,
		string(domain.StatusActive), at, id, string(domain.StatusPending))
	return oneRow(res, err)
}

// MarkLocked transitions pending/active -> locked. Returns false if the
// session was already terminal.
func (r *PostgresRepository) MarkLocked(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE citizen_sessions SET status = $1, locked_at = $2
		 WHERE id = $3 AND status IN ($4, $5)`,
		string(domain.StatusLocked), at, id,
		string(domain.StatusPending), string(domain.StatusActive))
	return oneRow(res, err)
}

// MarkExpired transitions pending/active -> expired so that reads after a
// lazy expiry detection stay consistent.
func (r *PostgresRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE citizen_sessions SET status = $1
		 WHERE id = $2 AND status IN ($3, $4)`,
		string(domain.StatusExpired), id,
		string(domain.StatusPending), string(domain.StatusActive))
	return oneRow(res, err)
}

// Touch records a token resolution on the session row.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time, ipHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE citizen_sessions
		 SET last_used_at = $1, reuse_count = reuse_count + 1, last_ip_hash = $2
		 WHERE id = $3`,
		at, nullString(ipHash), id)
	return err
}

func oneRow(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.CitizenSession, error) {
	var (
		s          domain.CitizenSession
		status     string
		phoneHash  sql.NullString
		lastIPHash sql.NullString
		verifiedAt sql.NullTime
		lockedAt   sql.NullTime
		lastUsedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.CaseID, &s.TokenHash, &phoneHash, &status, &s.ExpiresAt,
		&verifiedAt, &lockedAt, &lastUsedAt, &s.CenterID, &s.ReuseCount, &lastIPHash, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Status = domain.Status(status)
	s.PhoneHash = phoneHash.String
	s.LastIPHash = lastIPHash.String
	s.OTPVerifiedAt = nullTimeToPtr(verifiedAt)
	s.LockedAt = nullTimeToPtr(lockedAt)
	s.LastUsedAt = nullTimeToPtr(lastUsedAt)
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
