package security

import "testing"

func TestDigest_Deterministic(t *testing.T) {
	h := NewHasher("test-secret")
	d1 := h.Digest("token-abc")
	d2 := h.Digest("token-abc")
	if d1 != d2 {
		t.Errorf("Digest not deterministic: %q vs %q", d1, d2)
	}
	if len(d1) != 64 {
		t.Errorf("digest length = %d, want 64 (SHA-256 hex)", len(d1))
	}
}

func TestDigest_DependsOnSecret(t *testing.T) {
	d1 := NewHasher("secret-one").Digest("token-abc")
	d2 := NewHasher("secret-two").Digest("token-abc")
	if d1 == d2 {
		t.Error("same digest under different secrets")
	}
}

func TestDigest_DifferentInputs(t *testing.T) {
	h := NewHasher("test-secret")
	if h.Digest("+15551230001") == h.Digest("+15551230002") {
		t.Error("Digest produced same value for different inputs")
	}
}

func TestOTPDigest_PerSessionKey(t *testing.T) {
	h := NewHasher("test-secret")
	d1 := h.OTPDigest("session-a", "123456")
	d2 := h.OTPDigest("session-b", "123456")
	if d1 == d2 {
		t.Error("same code digested identically for two sessions")
	}
	if d1 != h.OTPDigest("session-a", "123456") {
		t.Error("OTPDigest not deterministic for same session")
	}
}

func TestDigestEqual(t *testing.T) {
	h := NewHasher("test-secret")
	d := h.Digest("value")
	if !DigestEqual(d, h.Digest("value")) {
		t.Error("equal digests reported unequal")
	}
	if DigestEqual(d, h.Digest("other")) {
		t.Error("unequal digests reported equal")
	}
}
