package surge

import (
	"sync"
	"sync/atomic"
)

// DefaultEventPoolSize is the default cap on idle events retained by an
// EventPool. Beyond the cap, released events are discarded and left for the
// garbage collector.
const DefaultEventPoolSize = 1024

// EventPool amortizes allocation of short-lived Event signals under high
// connection churn. Every request/response cycle needs a pair of single-shot
// signals (write gate + completion); without pooling that is two allocations
// per exchange.
//
// Design:
// - Capped free-list (arena-style reuse), mutex-guarded: the idle set is the
//   one structure touched from many connections' goroutines
// - Acquire never returns an event still referenced by an unfinished wait:
//   only events explicitly Released re-enter the idle set
// - Released events are Reset before retention, so an acquired event never
//   carries residual signaled state
// - Pool exhaustion degrades to direct allocation, never to failure
type EventPool struct {
	mu   sync.Mutex
	idle []*Event
	max  int

	// Counters (lock-free)
	acquires atomic.Uint64
	hits     atomic.Uint64
	misses   atomic.Uint64
	releases atomic.Uint64
	discards atomic.Uint64
}

// EventPoolStats is a point-in-time snapshot of pool counters.
type EventPoolStats struct {
	Acquires uint64 // Total Acquire calls
	Hits     uint64 // Acquires satisfied from the idle set
	Misses   uint64 // Acquires that allocated a new Event
	Releases uint64 // Total Release calls
	Discards uint64 // Releases dropped because the pool was full
	Idle     int    // Current idle-set size
}

// NewEventPool creates a pool retaining at most max idle events.
// max <= 0 selects DefaultEventPoolSize.
func NewEventPool(max int) *EventPool {
	if max <= 0 {
		max = DefaultEventPoolSize
	}
	return &EventPool{max: max}
}

// Acquire returns an unsignaled Event, reusing an idle one when available.
func (p *EventPool) Acquire() *Event {
	p.acquires.Add(1)

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		e := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		p.hits.Add(1)
		return e
	}
	p.mu.Unlock()

	p.misses.Add(1)
	return NewEvent()
}

// Release resets e and returns it to the idle set. If the pool is at its
// cap the event is discarded. The caller must guarantee no goroutine is
// still waiting on e.
func (p *EventPool) Release(e *Event) {
	if e == nil {
		return
	}
	p.releases.Add(1)
	e.Reset()

	p.mu.Lock()
	if len(p.idle) < p.max {
		p.idle = append(p.idle, e)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.discards.Add(1)
}

// Len returns the current number of idle events.
func (p *EventPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Cap returns the maximum number of idle events retained.
func (p *EventPool) Cap() int {
	return p.max
}

// Stats returns a snapshot of the pool counters.
func (p *EventPool) Stats() EventPoolStats {
	return EventPoolStats{
		Acquires: p.acquires.Load(),
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Releases: p.releases.Load(),
		Discards: p.discards.Load(),
		Idle:     p.Len(),
	}
}
