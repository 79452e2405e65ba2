package ratelimit

import (
	"context"
	"sync"
	"time"

	"wmharvest/pkg/clock"
)

// Limiter defines the interface for request pacing
type Limiter interface {
	// Wait blocks until a request may be sent or ctx is done
	Wait(ctx context.Context) error
	// Reset forgets past requests
	Reset()
}

// Interval enforces a minimum pause between consecutive requests.
// The first request goes out immediately.
type Interval struct {
	interval time.Duration
	clock    clock.Clock
	last     time.Time
	mu       sync.Mutex
}

// NewInterval creates a politeness limiter
func NewInterval(interval time.Duration, c clock.Clock) *Interval {
	if c == nil {
		c = clock.System{}
	}
	return &Interval{interval: interval, clock: c}
}

// Wait sleeps for the rest of the interval, then records the request
func (iv *Interval) Wait(ctx context.Context) error {
	for {
		iv.mu.Lock()
		now := iv.clock.Now()
		wait := iv.remaining(now)
		if wait <= 0 {
			iv.last = now
			iv.mu.Unlock()
			return nil
		}
		iv.mu.Unlock()

		if err := iv.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Reset lets the next request go out immediately
func (iv *Interval) Reset() {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.last = time.Time{}
}

func (iv *Interval) remaining(now time.Time) time.Duration {
	if iv.last.IsZero() || iv.interval <= 0 {
		return 0
	}
	return iv.interval - now.Sub(iv.last)
}

// SlidingWindow allows at most maxRequests within any windowSize period
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	clock       clock.Clock
	mu          sync.Mutex
}

// NewSlidingWindow creates a new sliding window rate limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration, c clock.Clock) *SlidingWindow {
	if c == nil {
		c = clock.System{}
	}
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
		clock:       c,
	}
}

func (sw *SlidingWindow) allow(now time.Time) bool {
	sw.cleanOldRequests(now)
	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Wait blocks until the oldest request leaves the window
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		sw.mu.Lock()
		now := sw.clock.Now()
		if sw.allow(now) {
			sw.mu.Unlock()
			return nil
		}
		wait := sw.windowSize - now.Sub(sw.requests[0])
		sw.mu.Unlock()

		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		if err := sw.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.requests = sw.requests[:0]
}

// cleanOldRequests removes requests outside the sliding window
func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)

	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

// Chain applies several limiters in order
type Chain []Limiter

// Wait waits on each limiter in turn
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets every limiter
func (c Chain) Reset() {
	for _, l := range c {
		l.Reset()
	}
}
