package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests.
// Params: start time and pending callbacks.
// Returns: deterministic Clock implementation.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	owner   *Fake
	fireAt  time.Time
	fn      func()
	stopped bool
	fired   bool
}

// NewFake creates fake clock positioned at start.
// Params: initial time.
// Returns: fake clock.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to run when the clock is advanced past delay.
func (f *Fake) AfterFunc(delay time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{owner: f, fireAt: f.now.Add(delay), fn: fn}
	f.pending = append(f.pending, timer)
	return timer
}

// Pending reports number of scheduled callbacks that have not fired.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, timer := range f.pending {
		if !timer.fired && !timer.stopped {
			count++
		}
	}
	return count
}

// Advance moves time forward and synchronously runs every callback that became due.
// Params: duration to move forward.
// Returns: none; callbacks run in fire-time order on the caller goroutine.
func (f *Fake) Advance(delta time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(delta)
	due := make([]*fakeTimer, 0, len(f.pending))
	rest := f.pending[:0]
	for _, timer := range f.pending {
		switch {
		case timer.stopped || timer.fired:
		case !timer.fireAt.After(f.now):
			timer.fired = true
			due = append(due, timer)
		default:
			rest = append(rest, timer)
		}
	}
	f.pending = rest
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].fireAt.Before(due[j].fireAt) })
	for _, timer := range due {
		timer.fn()
	}
}

// Stop cancels the callback if it has not fired yet.
func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
