package app

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errCancelled is returned by a checkpoint once cancel was requested
var errCancelled = errors.New("session cancelled")

// control is the pause/cancel token observed by a session's run loop.
// Cancel has priority over pause and cannot be undone.
type control struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	wake      chan struct{}
}

func newControl() *control {
	return &control{wake: make(chan struct{})}
}

func (c *control) setPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
	c.signalLocked()
}

func (c *control) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	c.signalLocked()
}

func (c *control) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *control) signalLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// checkpoint blocks while paused. It returns errCancelled after a cancel
// request and ctx.Err() when ctx ends first.
func (c *control) checkpoint(ctx context.Context) error {
	for {
		c.mu.Lock()
		cancelled, paused, wake := c.cancelled, c.paused, c.wake
		c.mu.Unlock()

		if cancelled {
			return errCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !paused {
			return nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sleep waits for d. It returns early with errCancelled or ctx.Err().
func (c *control) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		c.mu.Lock()
		cancelled, wake := c.cancelled, c.wake
		c.mu.Unlock()

		if cancelled {
			return errCancelled
		}
		select {
		case <-timer.C:
			return nil
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
