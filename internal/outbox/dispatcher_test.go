package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"citizen-access-plane/internal/outbox/domain"
	"citizen-access-plane/internal/security"
)

type memOutboxRepo struct {
	mu       sync.Mutex
	messages map[string]*domain.OutboxMessage
	events   []*domain.MessageEvent
}

func newMemOutboxRepo() *memOutboxRepo {
	return &memOutboxRepo{messages: make(map[string]*domain.OutboxMessage)}
}

func (r *memOutboxRepo) Create(_ context.Context, m *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.messages[m.ID] = &cp
	return nil
}

func (r *memOutboxRepo) GetByID(_ context.Context, id string) (*domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *memOutboxRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domain.OutboxMessage
	for _, m := range r.messages {
		if m.Status == domain.StatusPending ||
			(m.Status == domain.StatusRetry && m.NextRetryAt != nil && !m.NextRetryAt.After(now)) {
			cp := *m
			due = append(due, &cp)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *memOutboxRepo) MarkSent(_ context.Context, id string, fromRetryCount int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.RetryCount != fromRetryCount ||
		(m.Status != domain.StatusPending && m.Status != domain.StatusRetry) {
		return false, nil
	}
	m.Status = domain.StatusSent
	t := at
	m.SentAt = &t
	m.LastError = ""
	m.NextRetryAt = nil
	return true, nil
}

func (r *memOutboxRepo) MarkRetry(_ context.Context, id string, fromRetryCount int, nextRetryAt time.Time, lastError string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.RetryCount != fromRetryCount ||
		(m.Status != domain.StatusPending && m.Status != domain.StatusRetry) {
		return false, nil
	}
	m.Status = domain.StatusRetry
	m.RetryCount = fromRetryCount + 1
	t := nextRetryAt
	m.NextRetryAt = &t
	m.LastError = lastError
	return true, nil
}

func (r *memOutboxRepo) MarkDead(_ context.Context, id string, fromRetryCount int, lastError string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.RetryCount != fromRetryCount ||
		(m.Status != domain.StatusPending && m.Status != domain.StatusRetry) {
		return false, nil
	}
	m.Status = domain.StatusDead
	m.RetryCount = fromRetryCount + 1
	m.LastError = lastError
	m.NextRetryAt = nil
	return true, nil
}

func (r *memOutboxRepo) AppendEvent(_ context.Context, e *domain.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *memOutboxRepo) ListEvents(_ context.Context, messageID string) ([]*domain.MessageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.MessageEvent
	for _, e := range r.events {
		if e.MessageID == messageID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memOutboxRepo) eventTypes(messageID string) []string {
	events, _ := r.ListEvents(context.Background(), messageID)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

type scriptedProvider struct {
	mu    sync.Mutex
	fails int // Send fails this many times before succeeding
	calls int
	sent  []string
}

func (p *scriptedProvider) Send(_ context.Context, destination, templateID string, variables map[string]string, dedupeKey string) (*SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fails {
		return nil, errors.New("provider unavailable")
	}
	p.sent = append(p.sent, destination)
	return &SendResult{ProviderMessageID: "prov-1", Status: "submitted", ActualTo: destination, IntendedTo: destination}, nil
}

func newTestDispatcher(repo *memOutboxRepo, provider Provider) *Dispatcher {
	return NewDispatcher(repo, provider, security.NewHasher("test-secret"), nil, nil,
		5, time.Minute, 30*time.Minute)
}

func TestDispatcher_EnqueueAndDispatch(t *testing.T) {
	repo := newMemOutboxRepo()
	provider := &scriptedProvider{}
	d := newTestDispatcher(repo, provider)
	ctx := context.Background()

	m, err := d.Enqueue(ctx, "case-1", domain.TemplateOTP, "+15551234567", map[string]string{"code": "123456"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if m.Status != domain.StatusPending {
		t.Errorf("status after enqueue = %q, want pending", m.Status)
	}
	if m.DestinationHash == "+15551234567" {
		t.Error("destination must be stored hashed")
	}
	if len(provider.sent) != 0 {
		t.Error("Enqueue must not contact the provider")
	}

	updated, err := d.DispatchOne(ctx, m)
	if err != nil {
		t.Fatalf("DispatchOne: %v", err)
	}
	if updated.Status != domain.StatusSent {
		t.Errorf("status = %q, want sent", updated.Status)
	}
	if updated.SentAt == nil {
		t.Error("SentAt should be set")
	}
	if len(provider.sent) != 1 || provider.sent[0] != "+15551234567" {
		t.Errorf("provider sent = %v", provider.sent)
	}

	types := repo.eventTypes(m.ID)
	if len(types) != 1 || types[0] != domain.EventSent {
		t.Errorf("events = %v, want [SENT]", types)
	}
}

func TestDispatcher_RetriesThenDeadLetters(t *testing.T) {
	repo := newMemOutboxRepo()
	provider := &scriptedProvider{fails: 100}
	d := newTestDispatcher(repo, provider)
	ctx := context.Background()

	m, err := d.Enqueue(ctx, "case-1", domain.TemplateInvite, "+15551234567", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var prevNext time.Time
	cur := m
	for attempt := 1; attempt <= 4; attempt++ {
		cur, err = d.DispatchOne(ctx, cur)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if cur.Status != domain.StatusRetry {
			t.Fatalf("attempt %d: status = %q, want retry", attempt, cur.Status)
		}
		if cur.RetryCount != attempt {
			t.Errorf("attempt %d: retry count = %d", attempt, cur.RetryCount)
		}
		if cur.NextRetryAt == nil {
			t.Fatalf("attempt %d: NextRetryAt not set", attempt)
		}
		if !cur.NextRetryAt.After(prevNext) {
			t.Errorf("attempt %d: backoff not increasing: %v then %v", attempt, prevNext, cur.NextRetryAt)
		}
		prevNext = *cur.NextRetryAt
	}

	cur, err = d.DispatchOne(ctx, cur)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if cur.Status != domain.StatusDead {
		t.Errorf("status = %q, want dead", cur.Status)
	}
	if cur.RetryCount != 5 {
		t.Errorf("retry count = %d, want 5", cur.RetryCount)
	}
	if cur.LastError == "" {
		t.Error("LastError should record the provider failure")
	}

	types := repo.eventTypes(m.ID)
	if len(types) != 5 {
		t.Fatalf("events = %v, want 4 retries and 1 dead letter", types)
	}
	for i := 0; i < 4; i++ {
		if types[i] != domain.EventRetryScheduled {
			t.Errorf("event %d = %q, want RETRY_SCHEDULED", i, types[i])
		}
	}
	if types[4] != domain.EventDeadLetter {
		t.Errorf("last event = %q, want DEAD_LETTER", types[4])
	}
	for _, typ := range types {
		if typ == domain.EventSent {
			t.Error("no SENT event may exist for a dead-lettered message")
		}
	}
}

func TestDispatcher_RecoversAfterTransientFailure(t *testing.T) {
	repo := newMemOutboxRepo()
	provider := &scriptedProvider{fails: 2}
	d := newTestDispatcher(repo, provider)
	ctx := context.Background()

	m, err := d.Enqueue(ctx, "case-1", domain.TemplateOTP, "+15551234567", map[string]string{"code": "123456"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	cur := m
	for i := 0; i < 2; i++ {
		cur, err = d.DispatchOne(ctx, cur)
		if err != nil {
			t.Fatalf("failing attempt %d: %v", i+1, err)
		}
	}
	cur, err = d.DispatchOne(ctx, cur)
	if err != nil {
		t.Fatalf("recovering attempt: %v", err)
	}
	if cur.Status != domain.StatusSent {
		t.Errorf("status = %q, want sent", cur.Status)
	}

	types := repo.eventTypes(m.ID)
	want := []string{domain.EventRetryScheduled, domain.EventRetryScheduled, domain.EventSent}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestDispatcher_DispatchDue(t *testing.T) {
	repo := newMemOutboxRepo()
	provider := &scriptedProvider{}
	d := newTestDispatcher(repo, provider)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := d.Enqueue(ctx, "case-1", domain.TemplateOTP, "+15551234567", nil); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	sum, err := d.DispatchDue(ctx, 10)
	if err != nil {
		t.Fatalf("DispatchDue: %v", err)
	}
	if sum.Claimed != 3 || sum.Sent != 3 {
		t.Errorf("summary = %+v, want 3 claimed and sent", sum)
	}

	// Nothing remains due after a successful sweep.
	sum, err = d.DispatchDue(ctx, 10)
	if err != nil {
		t.Fatalf("second DispatchDue: %v", err)
	}
	if sum.Claimed != 0 {
		t.Errorf("second sweep claimed = %d, want 0", sum.Claimed)
	}
}

func TestDispatcher_DispatchDue_RespectsBackoffSchedule(t *testing.T) {
	repo := newMemOutboxRepo()
	provider := &scriptedProvider{fails: 1}
	d := newTestDispatcher(repo, provider)
	ctx := context.Background()

	if _, err := d.Enqueue(ctx, "case-1", domain.TemplateOTP, "+15551234567", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sum, err := d.DispatchDue(ctx, 10)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if sum.Retried != 1 {
		t.Fatalf("summary = %+v, want 1 retried", sum)
	}

	// The retry is scheduled in the future, so an immediate sweep skips it.
	sum, err = d.DispatchDue(ctx, 10)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if sum.Claimed != 0 {
		t.Errorf("second sweep claimed = %d, want 0", sum.Claimed)
	}

	// Once the clock passes next_retry_at the message is due again.
	d.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	sum, err = d.DispatchDue(ctx, 10)
	if err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if sum.Sent != 1 {
		t.Errorf("third sweep = %+v, want 1 sent", sum)
	}
}

func TestDispatcher_SkipsAlreadyTransitionedMessage(t *testing.T) {
	repo := newMemOutboxRepo()
	provider := &scriptedProvider{}
	d := newTestDispatcher(repo, provider)
	ctx := context.Background()

	m, err := d.Enqueue(ctx, "case-1", domain.TemplateOTP, "+15551234567", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := d.DispatchOne(ctx, m); err != nil {
		t.Fatalf("DispatchOne: %v", err)
	}

	// A second dispatcher holding the stale pending snapshot loses the claim.
	updated, err := d.DispatchOne(ctx, m)
	if err != nil {
		t.Fatalf("stale DispatchOne: %v", err)
	}
	if updated.Status != domain.StatusPending {
		t.Errorf("stale snapshot returned status %q; the store transition must not reapply", updated.Status)
	}
	types := repo.eventTypes(m.ID)
	if len(types) != 1 || types[0] != domain.EventSent {
		t.Errorf("events = %v, want exactly one SENT", types)
	}
}
