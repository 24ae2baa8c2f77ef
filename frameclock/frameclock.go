// Package frameclock drives paint callbacks when no host renderer is
// around to do it — headless harnesses and soak tests. In production the
// host's own paint loop calls the compositor directly.
package frameclock

import (
	"context"
	"time"
)

// Mode selects how frames are paced.
type Mode int

const (
	// RealTime paces frames with a wall-clock ticker.
	RealTime Mode = iota
	// Accelerated runs frames back to back as fast as the loop allows.
	Accelerated
)

// Clock invokes registered listeners once per frame.
type Clock struct {
	interval  time.Duration
	mode      Mode
	listeners []func(frame uint64)
}

// New constructs a clock. interval is the frame period in RealTime mode
// (ignored when accelerated); a non-positive interval defaults to ~60fps.
func New(interval time.Duration, mode Mode) *Clock {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Clock{interval: interval, mode: mode}
}

// OnFrame registers fn to run every frame, in registration order.
// Not safe to call while Run is active.
func (c *Clock) OnFrame(fn func(frame uint64)) {
	c.listeners = append(c.listeners, fn)
}

// Run drives frames until the count is reached or ctx is cancelled.
// frames <= 0 means run until cancelled.
func (c *Clock) Run(ctx context.Context, frames int) error {
	var ticker *time.Ticker
	if c.mode == RealTime {
		ticker = time.NewTicker(c.interval)
		defer ticker.Stop()
	}

	for frame := uint64(1); frames <= 0 || frame <= uint64(frames); frame++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		for _, fn := range c.listeners {
			fn(frame)
		}
	}
	return nil
}
