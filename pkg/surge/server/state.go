package server

import (
	"sync/atomic"
	"time"

	"github.com/yourusername/surge/pkg/surge"
)

// dateFormat is the RFC 1123 layout with the fixed GMT zone required by
// HTTP Date headers.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// dateCache pairs a formatted Date value with the unix second it was
// computed for.
type dateCache struct {
	unix  int64
	value string
}

// ServerState is the shared state visible to every connection: counters,
// the event pool, and the Date header cache. It is passed explicitly to
// each connection handler rather than living as package-global state, so
// multiple servers in one process never interfere.
//
// Counter discipline: ConnOpened is called by the acceptor when it
// registers a connection, ConnClosed by that connection's teardown, in
// matched pairs; RequestDone only by completed cycles. All
// fields are atomics, so there are no lost updates under concurrent
// connections.
type ServerState struct {
	activeConns   atomic.Int64
	totalRequests atomic.Uint64

	events *surge.EventPool

	date atomic.Pointer[dateCache]

	// Shutdown coordination. stopping is set by the lifecycle controller;
	// the connection handler that drops activeConns to zero while
	// stopping fires allClosed, waking the controller immediately.
	stopping  atomic.Bool
	allClosed *surge.Event
}

// NewServerState creates shared state with an event pool capped at
// poolSize idle entries (<= 0 selects the default cap).
func NewServerState(poolSize int) *ServerState {
	return &ServerState{
		events:    surge.NewEventPool(poolSize),
		allClosed: surge.NewEvent(),
	}
}

// Events returns the shared event pool.
func (s *ServerState) Events() *surge.EventPool {
	return s.events
}

// ActiveConnections returns the current number of open connections.
func (s *ServerState) ActiveConnections() int64 {
	return s.activeConns.Load()
}

// TotalRequests returns the number of completed exchanges.
func (s *ServerState) TotalRequests() uint64 {
	return s.totalRequests.Load()
}

// ConnOpened records a new connection.
func (s *ServerState) ConnOpened() {
	s.activeConns.Add(1)
}

// ConnClosed records a closed connection. During shutdown, the closer of
// the last connection signals completion; nothing polls.
func (s *ServerState) ConnClosed() {
	if s.activeConns.Add(-1) == 0 && s.stopping.Load() {
		s.allClosed.Set()
	}
}

// RequestDone records one completed exchange and returns the new total.
func (s *ServerState) RequestDone() uint64 {
	return s.totalRequests.Add(1)
}

// beginStopping flips the state into shutdown mode. If no connections are
// open the completion event fires immediately, so a shutdown with an idle
// server never waits.
func (s *ServerState) beginStopping() {
	s.stopping.Store(true)
	if s.activeConns.Load() == 0 {
		s.allClosed.Set()
	}
}

// DateHeader returns the cached RFC 1123 date string, recomputing it only
// when the wall-clock second has advanced. Concurrent first observers of
// a new second may race to format it; CAS keeps exactly one result and
// the losers adopt the winner's value.
func (s *ServerState) DateHeader() string {
	now := time.Now().Unix()
	cached := s.date.Load()
	if cached != nil && cached.unix == now {
		return cached.value
	}

	fresh := &dateCache{
		unix:  now,
		value: time.Unix(now, 0).UTC().Format(dateFormat),
	}
	if s.date.CompareAndSwap(cached, fresh) {
		return fresh.value
	}
	if winner := s.date.Load(); winner != nil && winner.unix == now {
		return winner.value
	}
	return fresh.value
}
