package telemetry

import (
	"context"

	"citizen-access-plane/internal/telemetry/domain"
)

// EventEmitter emits telemetry events (e.g. to Kafka). Best-effort; callers
// log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}
