package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"citizen-access-plane/internal/audit/domain"
	auditrepo "citizen-access-plane/internal/audit/repository"
)

// SentinelCaseID is the case_id used for audit events that have no case
// (e.g. a rejected unknown token).
const SentinelCaseID = "_system"

// IPExtractor returns the client IP (already hashed by the caller when it is
// PII) from the request context.
type IPExtractor func(context.Context) string

// AuditLogger appends one human-readable audit note to a case's trail.
// Note is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	Note(ctx context.Context, caseID, actor, action, detail string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// Note writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) Note(ctx context.Context, caseID, actor, action, detail string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	if caseID == "" {
		caseID = SentinelCaseID
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		IP:        ip,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to note %s on case %s: %v", action, caseID, err)
	}
}
