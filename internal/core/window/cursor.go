package window

import (
	"sync"
	"time"
)

// Cursor holds the start of the window currently receiving uploads.
//
// Uploads resolve their directory and write while holding the cursor shared,
// the tick takes its snapshot and advances while holding it exclusively. An
// upload therefore either completes before the snapshot or observes the
// advanced cursor; an upload that lands between the snapshot and the advance
// is left behind as a straggler and carried forward by reconciliation.
type Cursor struct {
	mu    sync.RWMutex
	start time.Time
	width time.Duration
}

// NewCursor creates a cursor at start. width must be positive.
func NewCursor(start time.Time, width time.Duration) *Cursor {
	return &Cursor{start: start, width: width}
}

// Current returns the window currently receiving uploads.
func (c *Cursor) Current() Interval {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return For(c.start, c.width)
}

// Start returns the start of the current window.
func (c *Cursor) Start() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// Width returns the window width.
func (c *Cursor) Width() time.Duration {
	return c.width
}

// Advance moves the cursor forward by exactly one width and returns the new
// current window.
func (c *Cursor) Advance() Interval {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.start.Add(c.width)
	return For(c.start, c.width)
}

// Hold runs fn with the current window while preventing the cursor from
// advancing. Multiple holders may run concurrently.
func (c *Cursor) Hold(fn func(Interval) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(For(c.start, c.width))
}

// Exclusive runs fn with the current window while no holder is active.
func (c *Cursor) Exclusive(fn func(Interval) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(For(c.start, c.width))
}
