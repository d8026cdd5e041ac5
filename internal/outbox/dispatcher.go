package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"citizen-access-plane/internal/audit"
	"citizen-access-plane/internal/outbox/domain"
	outboxrepo "citizen-access-plane/internal/outbox/repository"
	"citizen-access-plane/internal/security"
	"citizen-access-plane/internal/telemetry"
	telemetrydomain "citizen-access-plane/internal/telemetry/domain"
)

// Summary reports one DispatchDue sweep.
type Summary struct {
	Claimed int
	Sent    int
	Retried int
	Dead    int
	Skipped int // lost claims: another dispatcher transitioned the row first
}

// Dispatcher owns the outbox message state machine. Enqueue is called from
// request paths; DispatchOne/DispatchDue from the sweep worker. Provider
// errors are absorbed into retry/dead-letter state and never returned.
type Dispatcher struct {
	repo     outboxrepo.Repository
	provider Provider
	hasher   *security.Hasher
	auditor  audit.AuditLogger
	emitter  telemetry.EventEmitter

	maxRetry    int
	backoffBase time.Duration
	backoffCap  time.Duration
	now         func() time.Time
}

// NewDispatcher returns a Dispatcher. auditor and emitter may be nil.
func NewDispatcher(repo outboxrepo.Repository, provider Provider, hasher *security.Hasher,
	auditor audit.AuditLogger, emitter telemetry.EventEmitter,
	maxRetry int, backoffBase, backoffCap time.Duration) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		provider:    provider,
		hasher:      hasher,
		auditor:     auditor,
		emitter:     emitter,
		maxRetry:    maxRetry,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue inserts a pending message. It is a pure insert: delivery happens
// when the caller invokes DispatchOne directly or the sweep worker picks the
// row up. The destination is stored hashed; the payload carries the raw
// destination for the provider.
func (d *Dispatcher) Enqueue(ctx context.Context, caseID, templateID, destination string, variables map[string]string) (*domain.OutboxMessage, error) {
	payload, err := domain.EncodePayload(domain.Payload{To: destination, Variables: variables})
	if err != nil {
		return nil, err
	}
	m := &domain.OutboxMessage{
		ID:              uuid.New().String(),
		CaseID:          caseID,
		Channel:         domain.ChannelSMS,
		TemplateID:      templateID,
		DestinationHash: d.hasher.Digest(destination),
		Payload:         payload,
		Status:          domain.StatusPending,
		CreatedAt:       d.now(),
	}
	if err := d.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// dispatchOutcome classifies a single DispatchOne transition.
type dispatchOutcome int

const (
	outcomeSkipped dispatchOutcome = iota
	outcomeSent
	outcomeRetried
	outcomeDead
)

// DispatchOne attempts delivery of one message and applies exactly one state
// transition. A provider failure becomes retry or dead; it is never returned.
// The returned message reflects the applied transition; errors are store
// failures only.
func (d *Dispatcher) DispatchOne(ctx context.Context, m *domain.OutboxMessage) (*domain.OutboxMessage, error) {
	msg, _, err := d.dispatchOne(ctx, m)
	return msg, err
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m *domain.OutboxMessage) (*domain.OutboxMessage, dispatchOutcome, error) {
	if m.Status != domain.StatusPending && m.Status != domain.StatusRetry {
		return m, outcomeSkipped, nil
	}
	payload, err := domain.DecodePayload(m.Payload)
	if err != nil {
		// Undeliverable by construction; burn a retry so the message
		// eventually dead-letters instead of looping forever.
		return d.recordFailure(ctx, m, fmt.Sprintf("payload decode: %v", err))
	}

	_, sendErr := d.provider.Send(ctx, payload.To, m.TemplateID, payload.Variables, m.ID)
	if sendErr != nil {
		return d.recordFailure(ctx, m, sendErr.Error())
	}

	now := d.now()
	ok, err := d.repo.MarkSent(ctx, m.ID, m.RetryCount, now)
	if err != nil {
		return m, outcomeSkipped, err
	}
	if !ok {
		return m, outcomeSkipped, nil
	}
	d.appendEvent(ctx, m.ID, domain.EventSent, "delivered via "+m.Channel)
	d.audit(ctx, m, "outbox.sent", fmt.Sprintf("message %s delivered (template %s)", m.ID, m.TemplateID))
	d.emit(ctx, m, "outbox.sent")
	updated := *m
	updated.Status = domain.StatusSent
	updated.SentAt = &now
	updated.LastError = ""
	updated.NextRetryAt = nil
	return &updated, outcomeSent, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, m *domain.OutboxMessage, sendErr string) (*domain.OutboxMessage, dispatchOutcome, error) {
	newCount := m.RetryCount + 1
	if newCount >= d.maxRetry {
		ok, err := d.repo.MarkDead(ctx, m.ID, m.RetryCount, sendErr)
		if err != nil {
			return m, outcomeSkipped, err
		}
		if !ok {
			return m, outcomeSkipped, nil
		}
		d.appendEvent(ctx, m.ID, domain.EventDeadLetter,
			fmt.Sprintf("abandoned after %d attempts: %s", newCount, sendErr))
		d.audit(ctx, m, "outbox.dead_letter",
			fmt.Sprintf("message %s abandoned after %d attempts", m.ID, newCount))
		d.emit(ctx, m, "outbox.dead_letter")
		updated := *m
		updated.Status = domain.StatusDead
		updated.RetryCount = newCount
		updated.LastError = sendErr
		updated.NextRetryAt = nil
		return &updated, outcomeDead, nil
	}

	nextAt := d.now().Add(NextBackoff(newCount, d.backoffBase, d.backoffCap))
	ok, err := d.repo.MarkRetry(ctx, m.ID, m.RetryCount, nextAt, sendErr)
	if err != nil {
		return m, outcomeSkipped, err
	}
	if !ok {
		return m, outcomeSkipped, nil
	}
	d.appendEvent(ctx, m.ID, domain.EventRetryScheduled,
		fmt.Sprintf("attempt %d failed: %s; next at %s", newCount, sendErr, nextAt.Format(time.RFC3339)))
	d.audit(ctx, m, "outbox.retry_scheduled",
		fmt.Sprintf("message %s retry %d scheduled", m.ID, newCount))
	updated := *m
	updated.Status = domain.StatusRetry
	updated.RetryCount = newCount
	updated.LastError = sendErr
	updated.NextRetryAt = &nextAt
	return &updated, outcomeRetried, nil
}

// DispatchDue selects messages that are pending or due for retry, oldest
// first, and dispatches each. Intended to be called by the sweep worker on a
// fixed interval.
func (d *Dispatcher) DispatchDue(ctx context.Context, limit int) (*Summary, error) {
	due, err := d.repo.ListDue(ctx, d.now(), limit)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Claimed: len(due)}
	for _, m := range due {
		_, outcome, err := d.dispatchOne(ctx, m)
		if err != nil {
			return sum, err
		}
		switch outcome {
		case outcomeSent:
			sum.Sent++
		case outcomeRetried:
			sum.Retried++
		case outcomeDead:
			sum.Dead++
		default:
			sum.Skipped++
		}
	}
	return sum, nil
}

func (d *Dispatcher) appendEvent(ctx context.Context, messageID, eventType, detail string) {
	_ = d.repo.AppendEvent(ctx, &domain.MessageEvent{
		ID:        uuid.New().String(),
		MessageID: messageID,
		EventType: eventType,
		Detail:    detail,
		CreatedAt: d.now(),
	})
}

func (d *Dispatcher) audit(ctx context.Context, m *domain.OutboxMessage, action, detail string) {
	if d.auditor == nil {
		return
	}
	d.auditor.Note(ctx, m.CaseID, "dispatcher", action, detail)
}

func (d *Dispatcher) emit(ctx context.Context, m *domain.OutboxMessage, eventType string) {
	telemetry.EmitAsync(d.emitter, ctx, &telemetrydomain.Event{
		CaseID:    m.CaseID,
		EventType: eventType,
		Source:    "outbox",
		Metadata:  map[string]string{"message_id": m.ID, "template_id": m.TemplateID},
		CreatedAt: d.now(),
	})
}
