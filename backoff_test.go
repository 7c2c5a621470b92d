package jobwatch

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 2)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 4 * time.Second},
		{10, 4 * time.Second},
		{1000, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := backoff(tt.failures); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestExponentialBackoff_NeverExceedsCap(t *testing.T) {
	initial := 250 * time.Millisecond
	backoff := ExponentialBackoff(initial, 2)

	prev := time.Duration(0)
	for n := 0; n < 64; n++ {
		d := backoff(n)
		if d < prev {
			t.Fatalf("backoff(%d) = %v < backoff(%d) = %v, want monotonic", n, d, n-1, prev)
		}
		if d > 4*initial {
			t.Fatalf("backoff(%d) = %v, want <= %v", n, d, 4*initial)
		}
		prev = d
	}
}

func TestExponentialBackoff_ZeroCap(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 0)

	for _, n := range []int{0, 1, 5} {
		if got := backoff(n); got != time.Second {
			t.Errorf("backoff(%d) = %v, want 1s", n, got)
		}
	}
}
