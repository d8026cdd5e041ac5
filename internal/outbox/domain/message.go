package domain

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of an outbox message. Legal transitions:
// pending -> sent, pending -> retry, retry -> sent, retry -> retry,
// retry -> dead. Dead is terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusRetry   Status = "retry"
	StatusDead    Status = "dead"
)

// Channel identifies the delivery channel.
const ChannelSMS = "sms"

// Template ids used by this service.
const (
	TemplateInvite = "invite"
	TemplateOTP    = "otp"
)

// OutboxMessage is one row per attempted notification, written by the request
// path that produced the business event and delivered later by the sweep.
// Rows are never deleted; together with MessageEvent they form the delivery
// audit trail.
type OutboxMessage struct {
	ID              string
	CaseID          string // empty when the message has no case
	Channel         string
	TemplateID      string
	DestinationHash string
	Payload         json.RawMessage
	Status          Status
	RetryCount      int
	NextRetryAt     *time.Time
	LastError       string
	CreatedAt       time.Time
	SentAt          *time.Time
}

// Event types appended to the per-message log on each dispatch transition.
const (
	EventSent           = "SENT"
	EventRetryScheduled = "RETRY_SCHEDULED"
	EventDeadLetter     = "DEAD_LETTER"
)

// MessageEvent is one append-only log row keyed to an outbox message.
type MessageEvent struct {
	ID        string
	MessageID string
	EventType string
	Detail    string
	CreatedAt time.Time
}

// Payload is the structured content of an SMS outbox message. To carries the
// raw destination the provider needs; the message row itself stores only the
// destination hash.
type Payload struct {
	To        string            `json:"to"`
	Variables map[string]string `json:"variables,omitempty"`
}

// EncodePayload marshals a Payload for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	return json.Marshal(p)
}

// DecodePayload unmarshals a stored payload.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	err := json.Unmarshal(raw, &p)
	return p, err
}
