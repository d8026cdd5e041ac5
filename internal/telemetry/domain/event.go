package domain

import "time"

// Event is one telemetry event (case-scoped, optional session). Serialized as
// JSON onto the Kafka topic and labeled in Loki by EventType and Source.
type Event struct {
	CaseID    string            `json:"caseId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	EventType string            `json:"eventType"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
