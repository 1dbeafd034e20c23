package async

import "time"

// Backoff returns the delay before retry attempt n (zero-based) for an
// exponential schedule: min(base·2^n, cap). A non-positive cap disables the
// upper bound.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			return cap
		}
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}
