package jobwatch

import "time"

// BackoffFunc returns the delay to wait before the next poll given the
// current number of consecutive failures.
type BackoffFunc func(failures int) time.Duration

// ExponentialBackoff returns a [BackoffFunc] computing
// initial * 2^min(failures, capExp).
//
// With capExp = 2 the delays are 1x, 2x and 4x initial and never grow
// beyond that. Negative failure counts are treated as zero.
func ExponentialBackoff(initial time.Duration, capExp int) BackoffFunc {
	return func(failures int) time.Duration {
		n := failures
		if n < 0 {
			n = 0
		}
		if n > capExp {
			n = capExp
		}
		return initial << uint(n)
	}
}
