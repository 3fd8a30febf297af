package notify

import (
	"sync"
	"time"
)

// circuitBreaker guards a single channel from repeated dispatch attempts
// once it has proven unreliable: after threshold consecutive failures it
// opens and rejects sends for cooldown, then allows exactly one probe
// through (half-open) before either closing on success or reopening on
// failure.
type circuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures int
	open     bool
	openedAt time.Time
	probing  bool
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a dispatch attempt may proceed. When the breaker is
// open past its cooldown it admits a single half-open probe and marks it in
// flight so concurrent callers don't pile onto the same probe.
func (c *circuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return true
	}
	if time.Since(c.openedAt) < c.cooldown {
		return false
	}
	if c.probing {
		return false
	}
	c.probing = true
	return true
}

// RecordSuccess closes the breaker and clears failure state.
func (c *circuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.open = false
	c.probing = false
}

// RecordFailure increments the failure count, opening the breaker once
// threshold is reached. A failed half-open probe reopens immediately and
// resets the cooldown clock.
func (c *circuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probing = false
	c.failures++
	if c.failures >= c.threshold {
		c.open = true
		c.openedAt = time.Now()
	}
}

// IsOpen reports the breaker's current state, for status reporting.
func (c *circuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
