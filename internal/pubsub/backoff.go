package pubsub

import (
	"math/rand"
	"time"
)

const (
	// DefaultBackoffBase is the delay before the first reconnect attempt.
	DefaultBackoffBase = time.Second

	// maxBackoff caps the exponential growth of reconnect delays.
	maxBackoff = 30 * time.Second

	// maxJitter is added on top of every delay to spread reconnects.
	maxJitter = 500 * time.Millisecond
)

// ReconnectDelay returns the wait before reconnect attempt number
// attempts (1-based): min(30s, base * 2^min(attempts,5)) plus up to
// 500ms of jitter. base exists so tests can run the schedule fast.
func ReconnectDelay(attempts int, base time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	exp := attempts
	if exp > 5 {
		exp = 5
	}
	d := base << uint(exp)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(maxJitter)))
}
