// Package debounce delays an action until its input has been quiet for a fixed period.
package debounce

import (
	"sync"
	"time"
)

// Debouncer delivers the most recent value passed to Trigger once no further
// Trigger call has happened for the configured delay.
type Debouncer[T any] struct {
	mu       sync.Mutex
	delay    time.Duration
	fire     func(T)
	onCancel func(T)

	timer   *time.Timer
	seq     uint64
	pending bool
	value   T
	stopped bool
}

// Option configures a Debouncer.
type Option[T any] func(*Debouncer[T])

// WithCancelHook registers fn to be called with a pending value that was
// superseded by a newer Trigger or dropped by Cancel or Stop.
func WithCancelHook[T any](fn func(T)) Option[T] {
	return func(d *Debouncer[T]) { d.onCancel = fn }
}

// New creates a Debouncer that calls fire after delay of quiescence.
// fire runs on its own goroutine.
func New[T any](delay time.Duration, fire func(T), opts ...Option[T]) *Debouncer[T] {
	d := &Debouncer[T]{delay: delay, fire: fire}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger schedules v, replacing any value still waiting.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	superseded, hadPending := d.value, d.pending
	d.stopTimerLocked()
	d.seq++
	seq := d.seq
	d.value = v
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() { d.expire(seq) })
	d.mu.Unlock()

	if hadPending && d.onCancel != nil {
		d.onCancel(superseded)
	}
}

// Flush delivers the pending value immediately. It reports whether a value was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.stopTimerLocked()
	d.seq++
	v := d.value
	d.clearLocked()
	d.mu.Unlock()

	d.fire(v)
	return true
}

// Cancel drops the pending value without delivering it. It reports whether a value was pending.
func (d *Debouncer[T]) Cancel() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.stopTimerLocked()
	d.seq++
	v := d.value
	d.clearLocked()
	d.mu.Unlock()

	if d.onCancel != nil {
		d.onCancel(v)
	}
	return true
}

// Pending reports whether a value is waiting to be delivered.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending value and makes further Trigger calls no-ops.
func (d *Debouncer[T]) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Debouncer[T]) expire(seq uint64) {
	d.mu.Lock()
	// A timer that fired while being replaced must not deliver its value.
	if seq != d.seq || !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.clearLocked()
	d.mu.Unlock()

	d.fire(v)
}

func (d *Debouncer[T]) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer[T]) clearLocked() {
	var zero T
	d.value = zero
	d.pending = false
}
