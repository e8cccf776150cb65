// Package clock provides an injectable monotonic clock and cancellable
// timers so that raft's election and lease timing can be driven
// deterministically in tests instead of by sleeping real wall-clock time.
package clock

import (
	"sync/atomic"
	"time"
)

// Timer is a cancellable, single-fire scheduled callback with a
// remaining-time query. Cancellation is idempotent.
type Timer interface {
	// Stop cancels the timer. Safe to call more than once and safe to
	// call after the timer has already fired.
	Stop()

	// Remaining returns how much time is left before the timer fires.
	// Returns zero if the timer has already fired or been stopped.
	Remaining() time.Duration
}

// Clock is a source of monotonic time and scheduled callbacks. Tests
// substitute Virtual for Real so elections and lease expirations happen
// on command rather than on a wall-clock schedule.
type Clock interface {
	// Now returns the current time according to this clock.
	Now() time.Time

	// AfterFunc schedules fn to run after duration d elapses and
	// returns a Timer that can cancel it or report time remaining.
	AfterFunc(d time.Duration, fn func()) Timer

	// Sleep blocks the calling goroutine for duration d according to
	// this clock.
	Sleep(d time.Duration)
}

// Real is a Clock backed by the operating system's wall clock.
type Real struct{}

// NewReal creates a Clock backed by real wall-clock time.
func NewReal() Clock {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	deadline := time.Now().Add(d)
	t := time.AfterFunc(d, fn)
	return &realTimer{timer: t, deadline: deadline}
}

type realTimer struct {
	timer    *time.Timer
	deadline time.Time
	stopped  atomic.Bool
}

func (t *realTimer) Stop() {
	t.stopped.Store(true)
	t.timer.Stop()
}

func (t *realTimer) Remaining() time.Duration {
	if t.stopped.Load() {
		return 0
	}
	remaining := time.Until(t.deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}
