package repository

import (
	"context"

	"citizen-access-plane/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByCase(ctx context.Context, caseID string, limit, offset int32) ([]*domain.AuditLog, error)
}
