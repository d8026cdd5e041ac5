package repository

import (
	"context"

	"citizen-access-plane/internal/casefile/domain"
)

// Repository defines persistence for case records.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.CaseRecord, error)
	// EnsureCase creates the case if absent and returns the stored row.
	// Safe under concurrent callers for the same id.
	EnsureCase(ctx context.Context, c *domain.CaseRecord) (*domain.CaseRecord, error)
}
