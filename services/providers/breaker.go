package providers

import (
	"sync"
	"time"
)

// Breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// breaker is the per-provider circuit breaker. State lives in memory only;
// a restart resets every provider to closed. Transitions are test-and-set
// under the mutex.
type breaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state               string
	consecutiveFailures int
	openedAt            time.Time
	currentCooldown     time.Duration
	extended            bool
}

func newBreaker(failureThreshold int, cooldown time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		currentCooldown:  cooldown,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// elapsed moves to half-open and admits exactly one probe call.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.currentCooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	case BreakerHalfOpen:
		// One probe at a time; further callers wait for its verdict.
		return false
	}
	return true
}

// Success records a successful call.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.state = BreakerClosed
	b.currentCooldown = b.cooldown
	b.extended = false
}

// Failure records a failed call and returns the resulting state.
func (b *breaker) Failure() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch b.state {
	case BreakerHalfOpen:
		// Re-open; extend the cooldown once so the breaker cannot pin in
		// half-open under a steady trickle of probes.
		b.state = BreakerOpen
		b.openedAt = time.Now()
		if !b.extended {
			b.currentCooldown *= 2
			b.extended = true
		}
	case BreakerClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	}
	return b.state
}

// State returns the current state, applying the open → half-open timeout.
func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.currentCooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset returns the breaker to closed with cleared counters.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.currentCooldown = b.cooldown
	b.extended = false
}
