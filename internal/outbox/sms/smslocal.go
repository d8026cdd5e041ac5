// Package sms provides SMS providers for the outbox dispatcher: an SMS Local
// HTTP client and a no-op client for environments without a provider.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"citizen-access-plane/internal/outbox"
)

// requestTimeout bounds a single provider call; anything slower is treated as
// a send failure and retried by the dispatcher.
const requestTimeout = 5 * time.Second

// SMSLocalClient sends SMS via the SMS Local API.
// See https://www.smslocal.com/dev/bulkV2.
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = "https://www.smslocal.com/dev/bulkV2"
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: requestTimeout},
	}
}

type smsLocalResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"return"`
}

// Send posts one message to SMS Local. destination should be digits only
// (country code + number). Variable values are joined by the provider into
// the template identified by templateID. Does not log message content.
func (c *SMSLocalClient) Send(ctx context.Context, destination, templateID string, variables map[string]string, dedupeKey string) (*outbox.SendResult, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("sms: API key not configured")
	}
	body := map[string]interface{}{
		"route":     templateID,
		"numbers":   destination,
		"variables": variables,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	if dedupeKey != "" {
		body["unique_id"] = dedupeKey
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	var parsed smsLocalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// 2xx with an unparsable body still counts as accepted.
		parsed = smsLocalResponse{Status: "accepted"}
	}
	return &outbox.SendResult{
		ProviderMessageID: parsed.RequestID,
		Status:            parsed.Status,
		ActualTo:          destination,
		IntendedTo:        destination,
	}, nil
}
