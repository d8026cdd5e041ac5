package outbox

import "time"

// NextBackoff returns the delay before the retryCount-th retry: linear in the
// retry count, capped. retryCount is the value after the failed attempt has
// been counted, so the first retry waits one base interval.
func NextBackoff(retryCount int, base, cap time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := time.Duration(retryCount) * base
	if d > cap {
		return cap
	}
	return d
}
