// Package flow implements per-connection backpressure with high/low
// watermark hysteresis.
//
// A Controller tracks bytes queued for a transport but not yet flushed to
// the socket. Crossing the high watermark pauses producers; only once the
// queue drains back to the low watermark are they resumed. The gap between
// the two marks prevents pause/resume oscillation around a single
// threshold.
package flow

import (
	"context"
	"sync"
)

// Default watermarks. Tuning parameters, not structural requirements:
// deployments with slow clients and large responses may want these higher.
const (
	// DefaultHighWatermark pauses producers once this many bytes are
	// queued for the transport.
	DefaultHighWatermark = 64 * 1024

	// DefaultLowWatermark resumes producers once the queue drains to
	// this size or below.
	DefaultLowWatermark = 16 * 1024
)

// Controller tracks outbound queue depth for one connection and converts
// it into pause/resume signals.
//
// Design:
// - Add is called by producers when bytes are queued for the transport
// - Drained is called by the connection's writer after bytes reach the socket
// - WaitWritable blocks producers while paused
// - Resume is signaled exactly once per pause episode: the resume channel
//   is closed once, releasing every waiter registered during that episode,
//   and a fresh channel is installed on the next pause
// - Pause/resume transitions are idempotent; redundant calls are no-ops
//
// A waiter that registers after the resume decision still observes it:
// WaitWritable re-checks the paused flag under the lock before blocking.
type Controller struct {
	mu     sync.Mutex
	queued int64
	high   int64
	low    int64
	paused bool
	resume chan struct{}

	pauses  uint64
	resumes uint64
}

// NewController creates a flow controller with the given watermarks.
// Invalid configurations (non-positive marks, or low >= high) fall back to
// the defaults rather than risking oscillation or a permanent stall.
func NewController(high, low int64) *Controller {
	if high <= 0 || low < 0 || low >= high {
		high = DefaultHighWatermark
		low = DefaultLowWatermark
	}
	return &Controller{high: high, low: low}
}

// Add records n bytes queued for the transport. Crossing the high
// watermark transitions to paused.
func (c *Controller) Add(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.queued += int64(n)
	if !c.paused && c.queued > c.high {
		c.paused = true
		c.resume = make(chan struct{})
		c.pauses++
	}
	c.mu.Unlock()
}

// Drained records n bytes flushed to the socket. Draining to the low
// watermark or below while paused transitions to resumed, releasing the
// waiter set for this episode.
func (c *Controller) Drained(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.queued -= int64(n)
	if c.queued < 0 {
		c.queued = 0
	}
	if c.paused && c.queued <= c.low {
		c.paused = false
		close(c.resume)
		c.resumes++
	}
	c.mu.Unlock()
}

// WaitWritable blocks while the controller is paused. Returns nil once
// writable, or ctx.Err() if the context is done first.
func (c *Controller) WaitWritable(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.paused {
			c.mu.Unlock()
			return nil
		}
		resume := c.resume
		c.mu.Unlock()

		select {
		case <-resume:
			// Re-check: a concurrent Add may have paused again.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Paused reports whether producers are currently paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Queued returns the number of bytes currently queued for the transport.
func (c *Controller) Queued() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued
}

// Episodes returns the number of completed pause and resume transitions.
func (c *Controller) Episodes() (pauses, resumes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauses, c.resumes
}

// Watermarks returns the configured high and low watermarks.
func (c *Controller) Watermarks() (high, low int64) {
	return c.high, c.low
}
