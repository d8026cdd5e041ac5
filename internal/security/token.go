package security

import (
	"crypto/rand"
	"encoding/base64"
)

// inviteTokenBytes is the entropy of a raw invite token (256 bits).
const inviteTokenBytes = 32

// NewInviteToken returns a high-entropy, URL-safe raw invite token. The raw
// token is returned to the caller exactly once and only its digest is stored.
func NewInviteToken() (string, error) {
	b := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
