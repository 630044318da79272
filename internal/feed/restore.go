package feed

import (
	"context"
	"sync"
	"time"
)

// ScrollContainer is the part of a view the Restorer drives.
type ScrollContainer interface {
	// RenderedCount is the number of feed entries currently rendered.
	RenderedCount() int
	ScrollTo(offset int)
}

const (
	DefaultRestoreInterval    = 50 * time.Millisecond
	DefaultRestoreMaxAttempts = 20
)

// Restorer remembers a scroll offset when the user leaves the feed and
// reapplies it once enough entries have rendered again. The saved offset is
// consumed exactly once, whether it was applied or abandoned.
type Restorer struct {
	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	offset   int
	expected int
	saved    bool
}

// NewRestorer returns a Restorer polling every interval, giving up after
// maxAttempts checks.
func NewRestorer(interval time.Duration, maxAttempts int) *Restorer {
	if interval <= 0 {
		interval = DefaultRestoreInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultRestoreMaxAttempts
	}
	return &Restorer{interval: interval, maxAttempts: maxAttempts}
}

// Save records offset and the entry count that must be rendered before it
// can be applied.
func (r *Restorer) Save(offset, expected int) {
	r.mu.Lock()
	r.offset, r.expected, r.saved = offset, expected, true
	r.mu.Unlock()
}

// Pending reports whether an offset is waiting to be restored.
func (r *Restorer) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved
}

// take consumes the saved offset.
func (r *Restorer) take() (offset, expected int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset, expected, ok = r.offset, r.expected, r.saved
	r.saved = false
	return offset, expected, ok
}

// Restore waits until c has rendered the expected number of entries and
// scrolls to the saved offset. It reports whether it scrolled. The offset is
// discarded after maxAttempts checks or when ctx is done.
func (r *Restorer) Restore(ctx context.Context, c ScrollContainer) bool {
	offset, expected, ok := r.take()
	if !ok {
		return false
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if c.RenderedCount() >= expected {
			c.ScrollTo(offset)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return false
}
