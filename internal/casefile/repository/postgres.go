package repository

import (
	"context"
	"database/sql"
	"errors"

	"citizen-access-plane/internal/casefile/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a case record repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the case record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.CaseRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, case_key, center_id, created_at FROM case_records WHERE id = $1`, id)
	var c domain.CaseRecord
	if err := row.Scan(&c.ID, &c.CaseKey, &c.CenterID, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// EnsureCase inserts the case if it does not exist and returns the stored row.
// ON CONFLICT DO NOTHING makes concurrent create-if-absent calls for the same
// id converge on a single row.
func (r *PostgresRepository) EnsureCase(ctx context.Context, c *domain.CaseRecord) (*domain.CaseRecord, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO case_records (id, case_key, center_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.CaseKey, c.CenterID, c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, c.ID)
}
