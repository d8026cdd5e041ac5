package repository

import (
	"context"
	"database/sql"

	"citizen-access-plane/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, case_id, actor, action, detail, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.CaseID, a.Actor, a.Action, a.Detail, a.IP, a.CreatedAt)
	return err
}

// ListByCase returns audit logs for the given case, oldest first, paginated by limit and offset.
func (r *PostgresRepository) ListByCase(ctx context.Context, caseID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, case_id, actor, action, detail, ip, created_at
		 FROM audit_logs WHERE case_id = $1
		 ORDER BY created_at LIMIT $2 OFFSET $3`,
		caseID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.CaseID, &a.Actor, &a.Action, &a.Detail, &a.IP, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
