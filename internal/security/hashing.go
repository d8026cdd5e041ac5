// Package security provides the keyed hashing and random-value primitives for
// invite tokens, OTP codes, phone numbers, and client IPs. Raw values are
// never stored; only digests computed here are persisted.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Hasher computes deterministic keyed digests. The same (secret, value) pair
// always yields the same digest, so digests can serve as unique lookup keys,
// while a leaked database does not yield usable tokens or PII without the secret.
type Hasher struct {
	secret []byte
}

// NewHasher returns a Hasher keyed with secret. The secret must be non-empty
// and stable across processes; callers validate it at config load.
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Digest returns the HMAC-SHA256 of value under the hasher's secret,
// hex-encoded (64 characters). Used for invite tokens, phone numbers, and
// client IPs.
func (h *Hasher) Digest(value string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// OTPDigest returns the digest of an OTP code bound to sessionID. The key is
// derived per session via HKDF so the same 6-digit code stored for two
// sessions produces different digests.
func (h *Hasher) OTPDigest(sessionID, code string) string {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, h.secret, []byte(sessionID), []byte("otp"))
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF over SHA-256 cannot fail for a single block; keep the
		// fallback deterministic anyway.
		return h.Digest(sessionID + ":" + code)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// DigestEqual compares two hex digests in constant time.
func DigestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
