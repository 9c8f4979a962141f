// Package debounce provides a cancel-and-rearm timer used to collapse
// bursts of work into a single execution after a quiet period.
package debounce

import (
	"sync"
	"time"
)

// Debouncer arms a timer on each Trigger call, resetting (not accumulating)
// any timer already armed. When the delay elapses without another trigger,
// the callback fires once. Flush fires it immediately; Stop cancels it.
type Debouncer struct {
	mu      sync.Mutex
	timer   *time.Timer
	delay   time.Duration
	fn      func()
	pending bool
	stopped bool
}

// New creates a debouncer that invokes fn after delay of quiet.
func New(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger arms or re-arms the timer. Calls after Stop are ignored.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.fn()
}

// Pending reports whether a trigger is armed and not yet fired.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush cancels the timer and, if a trigger was pending, runs the callback
// synchronously before returning.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	run := d.pending && !d.stopped
	d.pending = false
	d.mu.Unlock()
	if run {
		d.fn()
	}
}

// Stop cancels any armed timer and rejects further triggers. Pending work
// is discarded; callers that care must Flush first.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}
