// Package outbox owns notification delivery: intent-to-send rows written with
// the triggering business event, then dispatched asynchronously with retry and
// dead-lettering so provider failures never reach the citizen-facing request.
package outbox

import "context"

// SendResult is the provider's acknowledgement of a single send.
type SendResult struct {
	ProviderMessageID string
	Status            string
	// ActualTo and IntendedTo differ when the provider rewrites the
	// destination (e.g. a sandbox that redirects all traffic).
	ActualTo   string
	IntendedTo string
}

// Provider delivers one message over an external channel. Implementations
// must bound the call with a short timeout; any error return is a send
// failure routed into the retry/dead-letter path. dedupeKey may be empty;
// providers that support idempotent delivery use it to suppress duplicates.
type Provider interface {
	Send(ctx context.Context, destination, templateID string, variables map[string]string, dedupeKey string) (*SendResult, error)
}
