package ratelimiter

import (
	"sync"
	"time"
)

// Limiter gates an action to at most one per interval.
// The transfer loop uses one for observer updates and one for resume record
// writes. It is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
	now         func() time.Time
}

// New creates a limiter that allows one action per interval.
// A non-positive interval allows every call.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

// Allow reports whether the action may run now. When it may, the call is
// recorded; otherwise the remaining wait is returned.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastAllowed)

	if l.lastAllowed.IsZero() || elapsed >= l.interval {
		l.lastAllowed = now
		return true, 0
	}

	return false, l.interval - elapsed
}

// Prime records the current time as the last allowed action, so the first
// Allow succeeds only after a full interval.
func (l *Limiter) Prime() {
	l.mu.Lock()
	l.lastAllowed = l.now()
	l.mu.Unlock()
}

// Force records an action that ran out of cadence, restarting the interval.
func (l *Limiter) Force() {
	l.Prime()
}
