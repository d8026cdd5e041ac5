package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"citizen-access-plane/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists a challenge log row. The challenge must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_challenges
		 (id, session_id, code_hash, status, ip_hash, phone_hash, error_code,
		  attempt, expires_at, requested_at, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.SessionID, c.CodeHash, string(c.Status),
		nullString(c.IPHash), nullString(c.PhoneHash), nullString(c.ErrorCode),
		c.Attempt, c.ExpiresAt, c.RequestedAt, nullTime(c.VerifiedAt))
	return err
}

// LatestIssued returns the most recently issued challenge for the session, or nil if none.
func (r *PostgresRepository) LatestIssued(ctx context.Context, sessionID string) (*domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, code_hash, status, ip_hash, phone_hash, error_code,
		        attempt, expires_at, requested_at, verified_at
		 FROM otp_challenges
		 WHERE session_id = $1 AND status = $2
		 ORDER BY requested_at DESC
		 LIMIT 1`,
		sessionID, string(domain.StatusIssued))
	var (
		c          domain.Challenge
		status     string
		ipHash     sql.NullString
		phoneHash  sql.NullString
		errorCode  sql.NullString
		verifiedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.SessionID, &c.CodeHash, &status, &ipHash, &phoneHash,
		&errorCode, &c.Attempt, &c.ExpiresAt, &c.RequestedAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Status = domain.ChallengeStatus(status)
	c.IPHash = ipHash.String
	c.PhoneHash = phoneHash.String
	c.ErrorCode = errorCode.String
	if verifiedAt.Valid {
		c.VerifiedAt = &verifiedAt.Time
	}
	return &c, nil
}

// CountFailedSince counts failed rows in the lookback window matching the
// session, ip hash, or phone hash. Empty hashes never match (NULLs excluded).
func (r *PostgresRepository) CountFailedSince(ctx context.Context, sessionID, ipHash, phoneHash string, since time.Time) (int, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM otp_challenges
		 WHERE status = $1 AND requested_at >= $2
		   AND (session_id = $3
		        OR ($4 <> '' AND ip_hash = $4)
		        OR ($5 <> '' AND phone_hash = $5))`,
		string(domain.StatusFailed), since, sessionID, ipHash, phoneHash)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkVerified flips an issued row to verified.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET status = $1, verified_at = $2
		 WHERE id = $3 AND status = $4`,
		string(domain.StatusVerified), at, id, string(domain.StatusIssued))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
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
