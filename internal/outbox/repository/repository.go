package repository

import (
	"context"
	"time"

	"citizen-access-plane/internal/outbox/domain"
)

// Repository defines persistence for outbox messages and their event log.
// Transition methods are conditional on the row's current status and retry
// count so that two dispatchers racing on the same message cannot both win;
// the returned bool reports whether the caller's transition applied.
type Repository interface {
	Create(ctx context.Context, m *domain.OutboxMessage) error
	GetByID(ctx context.Context, id string) (*domain.OutboxMessage, error)
	// ListDue returns up to limit messages that are pending, or in retry with
	// next_retry_at <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.OutboxMessage, error)
	// MarkSent transitions pending/retry -> sent, clearing the error.
	MarkSent(ctx context.Context, id string, fromRetryCount int, at time.Time) (bool, error)
	// MarkRetry transitions pending/retry -> retry, incrementing retry_count
	// from fromRetryCount and scheduling the next attempt.
	MarkRetry(ctx context.Context, id string, fromRetryCount int, nextRetryAt time.Time, lastError string) (bool, error)
	// MarkDead transitions retry/pending -> dead after the retry budget is spent.
	MarkDead(ctx context.Context, id string, fromRetryCount int, lastError string) (bool, error)
	AppendEvent(ctx context.Context, e *domain.MessageEvent) error
	ListEvents(ctx context.Context, messageID string) ([]*domain.MessageEvent, error)
}
