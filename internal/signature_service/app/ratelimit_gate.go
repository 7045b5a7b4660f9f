package app

import (
	"sync/atomic"
	"time"
)

// RateLimitGate tracks the provider's rate-limit embargo across all
// documents. It is the only state shared between concurrent senders, so all
// mutation goes through a single CAS on one unix-nano field rather than a
// read-modify-write pair.
//
// The deadline is a monotonic ratchet: once blocked, it only moves forward.
// A smaller retry-after observed while already blocked is ignored, so a
// racing early read can never unblock sends prematurely. The state is
// process-local; losing it on restart is acceptable because it is a soft
// advisory, not a correctness guarantee.
type RateLimitGate struct {
	blockedUntil atomic.Int64 // unix nanos; zero means unblocked

	// now is injectable for tests.
	now func() time.Time
}

// NewRateLimitGate creates an unblocked gate.
func NewRateLimitGate() *RateLimitGate {
	return &RateLimitGate{now: time.Now}
}

// CheckAllowed reports whether a send attempt may proceed. When blocked it
// returns the remaining wait.
func (g *RateLimitGate) CheckAllowed() (bool, time.Duration) {
	until := g.blockedUntil.Load()
	if until == 0 {
		return true, 0
	}
	remaining := time.Unix(0, until).Sub(g.now())
	if remaining <= 0 {
		// Expired; clear only if nobody ratcheted it forward meanwhile.
		g.blockedUntil.CompareAndSwap(until, 0)
		return true, 0
	}
	return false, remaining
}

// RecordRateLimited blocks sends for retryAfter from now. Later, larger
// deadlines win; earlier ones are discarded.
func (g *RateLimitGate) RecordRateLimited(retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	deadline := g.now().Add(retryAfter).UnixNano()
	for {
		current := g.blockedUntil.Load()
		if current >= deadline {
			return
		}
		if g.blockedUntil.CompareAndSwap(current, deadline) {
			return
		}
	}
}
