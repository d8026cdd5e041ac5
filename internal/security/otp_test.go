package security

import "testing"

func TestGenerateCode_SixDigits(t *testing.T) {
	code, err := GenerateCode()
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if len(code) != CodeDigits {
		t.Errorf("code length = %d, want %d", len(code), CodeDigits)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Errorf("code contains non-digit: %c", c)
		}
	}
}

func TestGenerateCode_Randomness(t *testing.T) {
	seen := make(map[string]bool)
	dups := 0
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if seen[code] {
			dups++
		}
		seen[code] = true
	}
	// 100 draws from a million values collide very rarely; more than a couple
	// of duplicates indicates broken randomness.
	if dups > 2 {
		t.Errorf("%d duplicate codes in 100 draws", dups)
	}
}
