package surge

import (
	"context"
	"sync"
)

// Event is a reusable single-shot wakeup signal.
//
// A producer calls Set once per episode to wake consumers blocked in Wait
// or selecting on Done. The signal is level-triggered: a Set that happens
// before a consumer registers is still observed, so there is no
// missed-wakeup window. Redundant Set calls within one episode are no-ops.
//
// Reset returns the event to the unsignaled state for the next episode.
// Reset must not race with Set or a registered waiter; the EventPool
// contract enforces this (an in-use event is never handed out twice).
type Event struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

// NewEvent creates a new unsignaled Event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set signals the event, waking every current and future waiter of this
// episode. Only the first Set per episode has an effect.
func (e *Event) Set() {
	e.mu.Lock()
	if !e.signaled {
		e.signaled = true
		close(e.ch)
	}
	e.mu.Unlock()
}

// IsSet reports whether the event has been signaled since the last Reset.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Done returns a channel closed when the event is signaled, for use in
// select statements. The channel is only valid for the current episode.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	return ch
}

// Wait blocks until the event is signaled or ctx is done.
// Returns nil when signaled, ctx.Err() on cancellation.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the signaled state, making the event ready for the next
// episode.
func (e *Event) Reset() {
	e.mu.Lock()
	if e.signaled {
		e.signaled = false
		e.ch = make(chan struct{})
	}
	e.mu.Unlock()
}
