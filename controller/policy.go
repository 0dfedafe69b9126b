package controller

import "time"

// DefaultRetryDelay is the fixed delay applied to failed reconciles when no
// error policy is configured.
const DefaultRetryDelay = 5 * time.Second

// ErrorPolicy maps a reconcile failure to a retry delay. attempt is the
// consecutive-failure streak for the key, starting at 1 for the first
// failure; it resets when a reconcile succeeds. The queue treats the returned
// duration opaquely.
type ErrorPolicy func(key Key, err error, attempt int) time.Duration

// ConstantDelay retries every failure after the same fixed delay, bounding
// worst-case staleness after transient failures.
func ConstantDelay(d time.Duration) ErrorPolicy {
	return func(Key, error, int) time.Duration {
		return d
	}
}

// ExponentialBackoff doubles the delay with each consecutive failure,
// starting at base and capped at maxDelay.
func ExponentialBackoff(base, maxDelay time.Duration) ErrorPolicy {
	return func(_ Key, _ error, attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}

		d := base

		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= maxDelay {
				return maxDelay
			}
		}

		if d > maxDelay {
			return maxDelay
		}

		return d
	}
}
