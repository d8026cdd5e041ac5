package domain

import "time"

// AuditLog represents one audit note appended to a case's trail.
type AuditLog struct {
	ID        string
	CaseID    string
	Actor     string
	Action    string
	Detail    string
	IP        string
	CreatedAt time.Time
}
