package retry

import (
	"math"
	"math/rand"
	"time"

	"wmharvest/pkg/clock"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attempt (1-based)
	NextDelay(attempt int) time.Duration
	// Reset resets the backoff strategy to initial state
	Reset()
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset is a no-op; the delay depends only on the attempt number
func (eb *ExponentialBackoff) Reset() {}

// QuantumBackoff waits until the start of the next fixed time quantum,
// e.g. the top of the next clock hour for an hourly API quota.
// A single delay never exceeds one quantum.
type QuantumBackoff struct {
	Quantum time.Duration
	// Grace is added after the boundary so the retry does not race the quota reset
	Grace time.Duration
	Clock clock.Clock
}

// NextDelay returns the time remaining until the next quantum boundary plus grace
func (qb *QuantumBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 || qb.Quantum <= 0 {
		return 0
	}
	c := qb.Clock
	if c == nil {
		c = clock.System{}
	}

	return UntilNextQuantum(c.Now(), qb.Quantum, qb.Grace)
}

// Reset is a no-op; the delay depends only on the clock
func (qb *QuantumBackoff) Reset() {}

// UntilNextQuantum returns how long to wait from now until the next multiple of
// quantum (in now's location) plus grace, capped at one quantum
func UntilNextQuantum(now time.Time, quantum, grace time.Duration) time.Duration {
	_, offset := now.Zone()
	local := now.Add(time.Duration(offset) * time.Second)
	next := local.Truncate(quantum).Add(quantum)

	delay := next.Sub(local) + grace
	if delay > quantum {
		delay = quantum
	}
	return delay
}
