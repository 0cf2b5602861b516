package transfer

import (
	"context"
	"sync"
)

// control carries the pause and cancel signals set from other goroutines
type control struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool

	resumeCh chan struct{} // closed and replaced on every resume
	cancelCh chan struct{} // closed once

	onCancel func()
}

func newControl() *control {
	return &control{
		resumeCh: make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// bind sets the hook run when cancellation is requested. If cancellation
// already happened the hook runs immediately.
func (c *control) bind(onCancel func()) {
	c.mu.Lock()
	c.onCancel = onCancel
	cancelled := c.cancelled
	c.mu.Unlock()

	if cancelled && onCancel != nil {
		onCancel()
	}
}

func (c *control) pause() {
	c.mu.Lock()
	if !c.cancelled {
		c.paused = true
	}
	c.mu.Unlock()
}

func (c *control) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
	c.resumeCh = make(chan struct{})
}

func (c *control) cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	c.paused = false
	close(c.cancelCh)
	hook := c.onCancel
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (c *control) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *control) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *control) done() <-chan struct{} {
	return c.cancelCh
}

// waitWhilePaused blocks until resumed or cancelled. It returns false on
// cancellation or when ctx ends.
func (c *control) waitWhilePaused(ctx context.Context) bool {
	for {
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return false
		}
		if !c.paused {
			c.mu.Unlock()
			return true
		}
		resumed := c.resumeCh
		c.mu.Unlock()

		select {
		case <-resumed:
		case <-c.cancelCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
