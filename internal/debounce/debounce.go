// Package debounce turns a stream of raw updates into a value that settles
// only after a quiet period.
package debounce

import (
	"sync"
	"time"
)

// DefaultDelay is the quiet period used by the feed search box.
const DefaultDelay = 500 * time.Millisecond

// Debouncer delivers the last pushed value once no new value has arrived for
// delay. Each Push cancels the pending emission; values are never queued.
type Debouncer[T any] struct {
	delay time.Duration
	emit  func(T)

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	closed bool

	// emitMu is held while emit runs so Close can wait for it.
	emitMu sync.Mutex
}

// New returns a Debouncer calling emit after delay of quiescence. emit runs
// on its own goroutine and must not call Close.
func New[T any](delay time.Duration, emit func(T)) *Debouncer[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer[T]{delay: delay, emit: emit}
}

// Push records v and restarts the quiet period.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen, v) })
}

func (d *Debouncer[T]) fire(gen uint64, v T) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	// A timer that fired just as Push stopped it still carries the old
	// generation.
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.emit(v)
}

// Pending reports whether an emission is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Close cancels any pending emission. Once Close returns emit is never
// called again.
func (d *Debouncer[T]) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	// Wait out an emission that passed the closed check before we set it.
	d.emitMu.Lock()
	d.emitMu.Unlock() //nolint:staticcheck // empty critical section is the barrier
}
