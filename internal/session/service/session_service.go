// Package service implements the session manager: invite issuance, idempotent
// token resolution, and the write gate that all citizen-initiated mutations
// pass through.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"citizen-access-plane/internal/audit"
	casedomain "citizen-access-plane/internal/casefile/domain"
	"citizen-access-plane/internal/config"
	outboxdomain "citizen-access-plane/internal/outbox/domain"
	"citizen-access-plane/internal/security"
	"citizen-access-plane/internal/session/domain"
	"citizen-access-plane/internal/telemetry"
	telemetrydomain "citizen-access-plane/internal/telemetry/domain"
)

// SessionRepo is the minimal session repository needed by the manager.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*domain.CitizenSession, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.CitizenSession, error)
	Create(ctx context.Context, s *domain.CitizenSession) error
	RevokeLive(ctx context.Context, caseID string, at time.Time) (int, error)
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
	Touch(ctx context.Context, id string, at time.Time, ipHash string) error
}

// CaseRepo is the minimal case store surface needed by the manager.
type CaseRepo interface {
	GetByID(ctx context.Context, id string) (*casedomain.CaseRecord, error)
	EnsureCase(ctx context.Context, c *casedomain.CaseRecord) (*casedomain.CaseRecord, error)
}

// Enqueuer is the outbox surface the manager uses to deliver invites.
type Enqueuer interface {
	Enqueue(ctx context.Context, caseID, templateID, destination string, variables map[string]string) (*outboxdomain.OutboxMessage, error)
}

// InviteResult holds the outcome of IssueInvite. RawToken is returned to the
// caller exactly once and is never retrievable again.
type InviteResult struct {
	SessionID string
	RawToken  string
	InviteURL string
	ExpiresAt time.Time
}

// SessionView is the read-only projection returned to the API layer.
type SessionView struct {
	SessionID   string    `json:"sessionId"`
	CaseID      string    `json:"caseId"`
	CaseKey     string    `json:"caseKey"`
	Status      string    `json:"status"`
	OTPVerified bool      `json:"otpVerified"`
	ReadOnly    bool      `json:"readOnly"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CenterID    string    `json:"centerId"`
}

// Manager drives the citizen session state machine.
type Manager struct {
	sessions SessionRepo
	cases    CaseRepo
	outbox   Enqueuer
	hasher   *security.Hasher
	auditor  audit.AuditLogger
	emitter  telemetry.EventEmitter

	inviteTTL          time.Duration
	baseURL            string
	demoMode           bool
	unknownTokenPolicy string
	now                func() time.Time
}

// NewManager returns a Manager. auditor and emitter may be nil.
func NewManager(sessions SessionRepo, cases CaseRepo, outbox Enqueuer,
	hasher *security.Hasher, auditor audit.AuditLogger, emitter telemetry.EventEmitter,
	inviteTTL time.Duration, baseURL string, demoMode bool, unknownTokenPolicy string) *Manager {
	return &Manager{
		sessions:           sessions,
		cases:              cases,
		outbox:             outbox,
		hasher:             hasher,
		auditor:            auditor,
		emitter:            emitter,
		inviteTTL:          inviteTTL,
		baseURL:            strings.TrimRight(baseURL, "/"),
		demoMode:           demoMode,
		unknownTokenPolicy: unknownTokenPolicy,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// IssueInvite creates (or reuses) the case, revokes any live session for it,
// inserts a new pending session, and queues the invite SMS. The notification
// is decoupled through the outbox: a provider outage cannot fail this call.
func (m *Manager) IssueInvite(ctx context.Context, caseID, centerID, phone string) (*InviteResult, error) {
	if caseID == "" {
		return nil, fmt.Errorf("case id is required")
	}
	now := m.now()
	caseRec, err := m.cases.EnsureCase(ctx, &casedomain.CaseRecord{
		ID:        caseID,
		CaseKey:   caseID,
		CenterID:  centerID,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	rawToken, err := security.NewInviteToken()
	if err != nil {
		return nil, err
	}

	revoked, err := m.sessions.RevokeLive(ctx, caseRec.ID, now)
	if err != nil {
		return nil, err
	}
	if revoked > 0 && m.auditor != nil {
		m.auditor.Note(ctx, caseRec.ID, "system", "session.revoked",
			fmt.Sprintf("%d prior session(s) superseded by new invite", revoked))
	}

	sess := &domain.CitizenSession{
		ID:        uuid.New().String(),
		CaseID:    caseRec.ID,
		TokenHash: m.hasher.Digest(rawToken),
		PhoneHash: m.optionalDigest(phone),
		Status:    domain.StatusPending,
		ExpiresAt: now.Add(m.inviteTTL),
		CenterID:  centerID,
		CreatedAt: now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	inviteURL := m.baseURL + "/p/sms?t=" + rawToken
	if phone != "" {
		if _, err := m.outbox.Enqueue(ctx, caseRec.ID, outboxdomain.TemplateInvite, phone,
			map[string]string{"url": inviteURL}); err != nil {
			return nil, err
		}
	}

	if m.auditor != nil {
		m.auditor.Note(ctx, caseRec.ID, "system", "invite.issued",
			fmt.Sprintf("session %s, expires %s", sess.ID, sess.ExpiresAt.Format(time.RFC3339)))
	}
	telemetry.EmitAsync(m.emitter, ctx, &telemetrydomain.Event{
		CaseID:    caseRec.ID,
		SessionID: sess.ID,
		EventType: "invite.issued",
		Source:    "session",
		CreatedAt: now,
	})

	return &InviteResult{
		SessionID: sess.ID,
		RawToken:  rawToken,
		InviteURL: inviteURL,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// ResolveToken resolves a raw invite token to a session view, failing closed
// with distinct error kinds for revoked, locked, and expired sessions.
// Resolution is idempotent: the same token always yields the same session id.
func (m *Manager) ResolveToken(ctx context.Context, rawToken, clientIP string) (*SessionView, error) {
	if rawToken == "" {
		return nil, domain.ErrSessionNotFound
	}
	tokenHash := m.hasher.Digest(rawToken)
	sess, err := m.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess, err = m.resolveUnknownToken(ctx, tokenHash)
		if err != nil {
			return nil, err
		}
	}

	now := m.now()
	switch sess.Status {
	case domain.StatusRevoked:
		return nil, domain.ErrSessionRevoked
	case domain.StatusLocked:
		return nil, domain.ErrSessionLocked
	case domain.StatusExpired:
		return nil, domain.ErrSessionExpired
	}
	if sess.ExpiredAt(now) {
		// Lazy expiry: persist the terminal status so subsequent reads agree.
		_, _ = m.sessions.MarkExpired(ctx, sess.ID)
		return nil, domain.ErrSessionExpired
	}

	if err := m.sessions.Touch(ctx, sess.ID, now, m.optionalDigest(clientIP)); err != nil {
		return nil, err
	}
	return m.view(ctx, sess)
}

// EnsureWritable gates every citizen-initiated mutation: the session must be
// live, unexpired, and OTP-verified. In demo mode an unverified session is
// auto-verified once, with a bypass note on the case's audit trail.
func (m *Manager) EnsureWritable(ctx context.Context, sessionID string) (*domain.CitizenSession, error) {
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	switch sess.Status {
	case domain.StatusRevoked:
		return nil, domain.ErrSessionRevoked
	case domain.StatusLocked:
		return nil, domain.ErrSessionLocked
	case domain.StatusExpired:
		return nil, domain.ErrSessionExpired
	}
	now := m.now()
	if sess.ExpiredAt(now) {
		_, _ = m.sessions.MarkExpired(ctx, sess.ID)
		return nil, domain.ErrSessionExpired
	}
	if sess.Verified() {
		return sess, nil
	}
	if !m.demoMode {
		return nil, domain.ErrSessionReadOnly
	}
	// The conditional transition succeeds once per session, so the bypass is
	// audited exactly once no matter how many calls race through here.
	ok, err := m.sessions.MarkVerified(ctx, sess.ID, now)
	if err != nil {
		return nil, err
	}
	if ok && m.auditor != nil {
		m.auditor.Note(ctx, sess.CaseID, "system", "otp.bypassed",
			fmt.Sprintf("demo mode auto-verified session %s", sess.ID))
	}
	return m.sessions.GetByID(ctx, sessionID)
}

// resolveUnknownToken applies the configured policy for tokens with no
// session row. Reject returns SessionNotFound; provision creates a case and
// session bound to the token hash, keeping later resolutions idempotent.
func (m *Manager) resolveUnknownToken(ctx context.Context, tokenHash string) (*domain.CitizenSession, error) {
	if m.unknownTokenPolicy != config.UnknownTokenProvision {
		if m.auditor != nil {
			m.auditor.Note(ctx, "", "system", "token.rejected", "unknown invite token")
		}
		return nil, domain.ErrSessionNotFound
	}

	now := m.now()
	caseKey := "CASE-" + strings.ToUpper(tokenHash[:8])
	caseRec, err := m.cases.EnsureCase(ctx, &casedomain.CaseRecord{
		ID:        caseKey,
		CaseKey:   caseKey,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	sess := &domain.CitizenSession{
		ID:        uuid.New().String(),
		CaseID:    caseRec.ID,
		TokenHash: tokenHash,
		Status:    domain.StatusPending,
		ExpiresAt: now.Add(m.inviteTTL),
		CreatedAt: now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		// A concurrent resolve of the same token may have created the row
		// first; the unique token hash index makes the re-lookup converge.
		existing, lookupErr := m.sessions.GetByTokenHash(ctx, tokenHash)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	if m.auditor != nil {
		m.auditor.Note(ctx, caseRec.ID, "system", "session.auto_provisioned",
			fmt.Sprintf("unknown token provisioned as session %s", sess.ID))
	}
	telemetry.EmitAsync(m.emitter, ctx, &telemetrydomain.Event{
		CaseID:    caseRec.ID,
		SessionID: sess.ID,
		EventType: "session.auto_provisioned",
		Source:    "session",
		CreatedAt: now,
	})
	return sess, nil
}

func (m *Manager) view(ctx context.Context, sess *domain.CitizenSession) (*SessionView, error) {
	caseKey := sess.CaseID
	if caseRec, err := m.cases.GetByID(ctx, sess.CaseID); err == nil && caseRec != nil {
		caseKey = caseRec.CaseKey
	}
	return &SessionView{
		SessionID:   sess.ID,
		CaseID:      sess.CaseID,
		CaseKey:     caseKey,
		Status:      string(sess.Status),
		OTPVerified: sess.Verified(),
		ReadOnly:    !sess.Verified(),
		ExpiresAt:   sess.ExpiresAt,
		CenterID:    sess.CenterID,
	}, nil
}

func (m *Manager) optionalDigest(value string) string {
	if value == "" {
		return ""
	}
	return m.hasher.Digest(value)
}
