// Package otp issues and checks one-time codes against a citizen session,
// with lockout driven by a rolling failed-attempt count over the append-only
// challenge log.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"citizen-access-plane/internal/audit"
	"citizen-access-plane/internal/devotp"
	"citizen-access-plane/internal/otp/domain"
	otprepo "citizen-access-plane/internal/otp/repository"
	outboxdomain "citizen-access-plane/internal/outbox/domain"
	"citizen-access-plane/internal/security"
	sessiondomain "citizen-access-plane/internal/session/domain"
	"citizen-access-plane/internal/telemetry"
	telemetrydomain "citizen-access-plane/internal/telemetry/domain"
)

// Sentinel errors for challenge verification; the HTTP layer maps them to status codes.
var (
	ErrChallengeExpired  = errors.New("challenge expired or not issued")
	ErrChallengeMismatch = errors.New("challenge code mismatch")
	ErrPhoneRequired     = errors.New("phone number is required")
)

// SessionRepo is the minimal session repository needed by the verifier.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.CitizenSession, error)
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	MarkLocked(ctx context.Context, id string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
}

// Enqueuer is the outbox surface the verifier uses to deliver codes.
type Enqueuer interface {
	Enqueue(ctx context.Context, caseID, templateID, destination string, variables map[string]string) (*outboxdomain.OutboxMessage, error)
}

// ChallengeResult is returned by RequestChallenge.
type ChallengeResult struct {
	TTLSeconds int
	// Code is the generated code, set only when dev echo is enabled. Never
	// populated in production.
	Code string
}

// Verifier implements the OTP challenge/response flow.
type Verifier struct {
	challenges otprepo.Repository
	sessions   SessionRepo
	outbox     Enqueuer
	hasher     *security.Hasher
	devStore   devotp.Store
	auditor    audit.AuditLogger
	emitter    telemetry.EventEmitter

	ttl         time.Duration
	maxAttempts int
	window      time.Duration
	echoCode    bool
	now         func() time.Time
}

// NewVerifier returns a Verifier. devStore, auditor, and emitter may be nil;
// echoCode must be false in production (enforced at config load).
func NewVerifier(challenges otprepo.Repository, sessions SessionRepo, outbox Enqueuer,
	hasher *security.Hasher, devStore devotp.Store, auditor audit.AuditLogger,
	emitter telemetry.EventEmitter, ttl time.Duration, maxAttempts int,
	window time.Duration, echoCode bool) *Verifier {
	return &Verifier{
		challenges:  challenges,
		sessions:    sessions,
		outbox:      outbox,
		hasher:      hasher,
		devStore:    devStore,
		auditor:     auditor,
		emitter:     emitter,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		window:      window,
		echoCode:    echoCode,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RequestChallenge generates a code for the session, logs it as issued, and
// queues SMS delivery through the outbox. Fails closed with a locked error
// when the rolling failed count has reached the maximum. Issuing a new
// challenge supersedes older ones: verification targets the latest issued row.
func (v *Verifier) RequestChallenge(ctx context.Context, sessionID, clientIP, phone string) (*ChallengeResult, error) {
	if phone == "" {
		return nil, ErrPhoneRequired
	}
	sess, err := v.loadLiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := v.now()
	ipHash := v.optionalDigest(clientIP)
	phoneHash := v.optionalDigest(phone)
	failed, err := v.challenges.CountFailedSince(ctx, sessionID, ipHash, phoneHash, now.Add(-v.window))
	if err != nil {
		return nil, err
	}
	if failed >= v.maxAttempts {
		return nil, v.lockSession(ctx, sess, failed)
	}

	code, err := security.GenerateCode()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(v.ttl)
	challenge := &domain.Challenge{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		CodeHash:    v.hasher.OTPDigest(sessionID, code),
		Status:      domain.StatusIssued,
		IPHash:      ipHash,
		PhoneHash:   phoneHash,
		ExpiresAt:   expiresAt,
		RequestedAt: now,
	}
	if err := v.challenges.Create(ctx, challenge); err != nil {
		return nil, err
	}

	// Delivery is decoupled: a provider outage must not fail this call.
	if _, err := v.outbox.Enqueue(ctx, sess.CaseID, outboxdomain.TemplateOTP, phone,
		map[string]string{"code": code}); err != nil {
		return nil, err
	}

	result := &ChallengeResult{TTLSeconds: int(v.ttl.Seconds())}
	if v.echoCode {
		if v.devStore != nil {
			v.devStore.Put(ctx, sessionID, code, expiresAt)
		}
		result.Code = code
	}

	if v.auditor != nil {
		v.auditor.Note(ctx, sess.CaseID, "citizen", "otp.challenge_issued",
			fmt.Sprintf("challenge for session %s, expires %s", sessionID, expiresAt.Format(time.RFC3339)))
	}
	return result, nil
}

// VerifyChallenge checks the supplied code against the most recently issued,
// unexpired challenge. The in-flight attempt counts toward the limit, so the
// max-th attempt fails with a locked error even when the code is correct.
func (v *Verifier) VerifyChallenge(ctx context.Context, sessionID, code, clientIP, phone string) error {
	sess, err := v.loadLiveSession(ctx, sessionID)
	if err != nil {
		return err
	}

	now := v.now()
	ipHash := v.optionalDigest(clientIP)
	phoneHash := v.optionalDigest(phone)
	since := now.Add(-v.window)
	failed, err := v.challenges.CountFailedSince(ctx, sessionID, ipHash, phoneHash, since)
	if err != nil {
		return err
	}
	if failed+1 >= v.maxAttempts {
		return v.lockSession(ctx, sess, failed)
	}

	live, err := v.challenges.LatestIssued(ctx, sessionID)
	if err != nil {
		return err
	}
	if live == nil || !live.ExpiresAt.After(now) {
		v.recordFailure(ctx, sessionID, ipHash, phoneHash, domain.ErrorCodeExpired, failed+1)
		return ErrChallengeExpired
	}

	if !security.DigestEqual(v.hasher.OTPDigest(sessionID, code), live.CodeHash) {
		v.recordFailure(ctx, sessionID, ipHash, phoneHash, domain.ErrorCodeMismatch, failed+1)
		// Recount from the log: a concurrent attempt may have pushed the
		// total over the threshold between our pre-check and here.
		if recount, err := v.challenges.CountFailedSince(ctx, sessionID, ipHash, phoneHash, since); err == nil && recount >= v.maxAttempts {
			_ = v.lockSession(ctx, sess, recount)
		}
		return ErrChallengeMismatch
	}

	if _, err := v.challenges.MarkVerified(ctx, live.ID, now); err != nil {
		return err
	}
	ok, err := v.sessions.MarkVerified(ctx, sessionID, now)
	if err != nil {
		return err
	}
	if !ok {
		// Another transition won; report the session's actual state.
		current, err := v.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		switch {
		case current == nil:
			return sessiondomain.ErrSessionNotFound
		case current.Status == sessiondomain.StatusActive:
			// Already verified; treat as success.
		case current.Status == sessiondomain.StatusLocked:
			return sessiondomain.ErrSessionLocked
		case current.Status == sessiondomain.StatusRevoked:
			return sessiondomain.ErrSessionRevoked
		default:
			return sessiondomain.ErrSessionExpired
		}
	}

	if v.auditor != nil {
		v.auditor.Note(ctx, sess.CaseID, "citizen", "otp.verified",
			fmt.Sprintf("session %s verified", sessionID))
	}
	telemetry.EmitAsync(v.emitter, ctx, &telemetrydomain.Event{
		CaseID:    sess.CaseID,
		SessionID: sessionID,
		EventType: "otp.verified",
		Source:    "otp",
		CreatedAt: now,
	})
	return nil
}

// loadLiveSession loads the session and fails closed on terminal or expired
// states, writing the expired status back when expiry is detected lazily.
func (v *Verifier) loadLiveSession(ctx context.Context, sessionID string) (*sessiondomain.CitizenSession, error) {
	sess, err := v.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, sessiondomain.ErrSessionNotFound
	}
	switch sess.Status {
	case sessiondomain.StatusLocked:
		return nil, sessiondomain.ErrSessionLocked
	case sessiondomain.StatusRevoked:
		return nil, sessiondomain.ErrSessionRevoked
	case sessiondomain.StatusExpired:
		return nil, sessiondomain.ErrSessionExpired
	}
	if sess.ExpiredAt(v.now()) {
		_, _ = v.sessions.MarkExpired(ctx, sessionID)
		return nil, sessiondomain.ErrSessionExpired
	}
	return sess, nil
}

func (v *Verifier) lockSession(ctx context.Context, sess *sessiondomain.CitizenSession, failed int) error {
	now := v.now()
	if ok, err := v.sessions.MarkLocked(ctx, sess.ID, now); err != nil {
		return err
	} else if ok {
		if v.auditor != nil {
			v.auditor.Note(ctx, sess.CaseID, "system", "session.locked",
				fmt.Sprintf("session %s locked after %d failed attempts", sess.ID, failed))
		}
		telemetry.EmitAsync(v.emitter, ctx, &telemetrydomain.Event{
			CaseID:    sess.CaseID,
			SessionID: sess.ID,
			EventType: "session.locked",
			Source:    "otp",
			CreatedAt: now,
		})
	}
	return sessiondomain.ErrSessionLocked
}

func (v *Verifier) recordFailure(ctx context.Context, sessionID, ipHash, phoneHash, errorCode string, attempt int) {
	_ = v.challenges.Create(ctx, &domain.Challenge{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		CodeHash:    "",
		Status:      domain.StatusFailed,
		IPHash:      ipHash,
		PhoneHash:   phoneHash,
		ErrorCode:   errorCode,
		Attempt:     attempt,
		ExpiresAt:   v.now(), // failed rows carry no live code
		RequestedAt: v.now(),
	})
}

func (v *Verifier) optionalDigest(value string) string {
	if value == "" {
		return ""
	}
	return v.hasher.Digest(value)
}
