package domain

import "time"

// CaseRecord is the minimal case row this core needs: enough to anchor
// sessions, audit notes, and notifications to a case. Full case lifecycle
// (stages, work items) lives outside this service.
type CaseRecord struct {
	ID        string
	CaseKey   string
	CenterID  string
	CreatedAt time.Time
}
