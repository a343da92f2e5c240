package transport

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// BackoffPolicy selects how the reconnect delay grows.
type BackoffPolicy string

const (
	BackoffFixed       BackoffPolicy = "fixed"
	BackoffExponential BackoffPolicy = "exponential"
)

// Backoff controls the delay between reconnect attempts. There is no
// retry cap: the push channel is retried for as long as the client lives.
type Backoff struct {
	Policy BackoffPolicy
	Base   time.Duration // first delay, and the only one under BackoffFixed (default 3s)
	Max    time.Duration // exponential cap (default 30s)
}

// DefaultBackoff returns exponential 3s..30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Policy: BackoffExponential,
		Base:   3 * time.Second,
		Max:    30 * time.Second,
	}
}

// ParseBackoffPolicy accepts "fixed" or "exponential"; empty means exponential.
func ParseBackoffPolicy(s string) (BackoffPolicy, error) {
	switch BackoffPolicy(s) {
	case "", BackoffExponential:
		return BackoffExponential, nil
	case BackoffFixed:
		return BackoffFixed, nil
	default:
		return "", fmt.Errorf("unknown backoff policy %q (want fixed or exponential)", s)
	}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = 3 * time.Second
	}
	if max < base {
		max = base
	}
	if b.Policy == BackoffFixed {
		return base
	}
	if attempt < 1 {
		attempt = 1
	}
	return backoffWithJitter(base, max, attempt-1)
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := max
	if attempt < 32 {
		if d := base << uint(attempt); d > 0 && d < max {
			delay = d
		}
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}
