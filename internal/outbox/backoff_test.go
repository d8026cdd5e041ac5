package outbox

import (
	"testing"
	"time"
)

func TestNextBackoff_Linear(t *testing.T) {
	base := time.Minute
	cap := 30 * time.Minute
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{5, 5 * time.Minute},
		{29, 29 * time.Minute},
		{30, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := NextBackoff(tc.retryCount, base, cap); got != tc.want {
			t.Errorf("NextBackoff(%d) = %v, want %v", tc.retryCount, got, tc.want)
		}
	}
}

func TestNextBackoff_Capped(t *testing.T) {
	if got := NextBackoff(100, time.Minute, 30*time.Minute); got != 30*time.Minute {
		t.Errorf("NextBackoff(100) = %v, want cap 30m", got)
	}
}

func TestNextBackoff_ClampsBelowOne(t *testing.T) {
	if got := NextBackoff(0, time.Minute, 30*time.Minute); got != time.Minute {
		t.Errorf("NextBackoff(0) = %v, want 1m", got)
	}
	if got := NextBackoff(-3, time.Minute, 30*time.Minute); got != time.Minute {
		t.Errorf("NextBackoff(-3) = %v, want 1m", got)
	}
}

func TestNextBackoff_StrictlyIncreasingUntilCap(t *testing.T) {
	base := time.Minute
	cap := 30 * time.Minute
	prev := time.Duration(0)
	for n := 1; n <= 30; n++ {
		d := NextBackoff(n, base, cap)
		if d <= prev && d != cap {
			t.Fatalf("backoff not increasing at retry %d: %v after %v", n, d, prev)
		}
		prev = d
	}
}
