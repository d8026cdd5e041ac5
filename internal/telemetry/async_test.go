package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"citizen-access-plane/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	event := &domain.Event{EventType: "test", Source: "test"}

	// Should not panic
	EmitAsync(nil, context.Background(), event)
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}

	// Should not panic
	EmitAsync(emitter, context.Background(), nil)

	if emitter.count() != 0 {
		t.Errorf("expected no events, got %d", emitter.count())
	}
}

func TestEmitAsync_DeliversEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), &domain.Event{
		CaseID:    "case-1",
		EventType: "otp.verified",
		Source:    "session",
		CreatedAt: time.Now().UTC(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for emitter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if emitter.count() != 1 {
		t.Fatalf("expected 1 event, got %d", emitter.count())
	}
}
