package security

import "crypto/rand"

// CodeDigits is the width of a generated OTP code.
const CodeDigits = 6

// GenerateCode returns a CodeDigits-wide numeric OTP string (e.g. "123456").
// Uses crypto/rand for randomness.
func GenerateCode() (string, error) {
	b := make([]byte, CodeDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, CodeDigits)
	for i := 0; i < CodeDigits; i++ {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}
