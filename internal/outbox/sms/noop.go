package sms

import (
	"context"
	"log"
	"strings"

	"citizen-access-plane/internal/outbox"
)

// NoopClient accepts every send without calling any provider. Used in
// development and tests when no SMS API key is configured. Logs a masked
// destination only, never the message content; persistence paths store only
// hashes and the log follows suit.
type NoopClient struct{}

// NewNoopClient returns a provider that drops messages on the floor.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// Send reports success without sending anything.
func (c *NoopClient) Send(ctx context.Context, destination, templateID string, variables map[string]string, dedupeKey string) (*outbox.SendResult, error) {
	log.Printf("sms: noop provider dropped %s message to %s", templateID, maskDestination(destination))
	return &outbox.SendResult{
		ProviderMessageID: "noop",
		Status:            "dropped",
		ActualTo:          "",
		IntendedTo:        destination,
	}, nil
}

// maskDestination keeps the last two characters of a phone number and blanks
// the rest, enough to tell test numbers apart without recording PII.
func maskDestination(destination string) string {
	const keep = 2
	if len(destination) <= keep {
		return strings.Repeat("*", len(destination))
	}
	return strings.Repeat("*", len(destination)-keep) + destination[len(destination)-keep:]
}
