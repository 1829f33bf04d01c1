package clock

import "time"

// Clock provides time and deferred-call abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time and scheduled callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(delay time.Duration, fn func()) Timer
}

// Timer is a scheduled callback handle.
// Params: none.
// Returns: false from Stop when callback already fired or was stopped.
type Timer interface {
	Stop() bool
}

// RealClock reads current UTC time from system clock and schedules with runtime timers.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs fn in its own goroutine after delay.
// Params: delay and callback.
// Returns: stoppable timer handle.
func (RealClock) AfterFunc(delay time.Duration, fn func()) Timer {
	return time.AfterFunc(delay, fn)
}
