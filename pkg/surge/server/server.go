package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yourusername/surge/pkg/surge/http11"
)

// Phase is the lifecycle phase of a Server.
type Phase int32

const (
	PhaseNotStarted Phase = iota
	PhaseStarting
	PhaseServing
	PhaseStopping
	PhaseStopped
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not-started"
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server adapts raw socket byte streams into request/response exchanges
// for the configured Handler. One Server serves one listener for one
// NotStarted → Serving → Stopped lifetime; it is not restartable.
type Server struct {
	config Config
	state  *ServerState

	phase atomic.Int32

	// baseCtx is canceled on Close / forced shutdown; every connection's
	// context derives from it.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}

	inShutdown atomic.Bool
}

// New creates a server from config, backfilling defaults for zero-valued
// fields. Panics if config.Handler is nil: a server without an
// application is a programming error, not a runtime condition.
func New(config Config) *Server {
	if config.Handler == nil {
		panic(ErrHandlerRequired)
	}
	config = config.withDefaults()
	s := &Server{
		config: config,
		state:  NewServerState(config.EventPoolSize),
		conns:  make(map[*conn]struct{}),
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	return s
}

// Phase returns the current lifecycle phase.
func (s *Server) Phase() Phase {
	return Phase(s.phase.Load())
}

// State returns the shared server state (counters, event pool, date
// cache).
func (s *Server) State() *ServerState {
	return s.state
}

// ListenAndServe listens on the configured address with tuned socket
// options and serves until Shutdown or Close.
func (s *Server) ListenAndServe() error {
	ln, err := Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown or Close, returning
// ErrServerClosed in that case. The lifespan startup hook runs first;
// its failure aborts the server before a single connection is accepted.
func (s *Server) Serve(ln net.Listener) error {
	if !s.phase.CompareAndSwap(int32(PhaseNotStarted), int32(PhaseStarting)) {
		return ErrAlreadyServing
	}

	if err := s.config.Lifespan.Startup(s.baseCtx); err != nil {
		s.phase.Store(int32(PhaseStopped))
		ln.Close()
		return fmt.Errorf("server: lifespan startup failed: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.phase.Store(int32(PhaseServing))
	s.config.Logger.Printf("serving on %s", ln.Addr())

	g, ctx := errgroup.WithContext(s.baseCtx)
	g.Go(func() error { return s.acceptLoop(ln) })
	g.Go(func() error {
		s.dateLoop(ctx)
		return nil
	})

	err := g.Wait()
	if s.inShutdown.Load() {
		return ErrServerClosed
	}
	return err
}

// acceptLoop accepts connections until the listener closes. Transient
// accept errors back off exponentially instead of spinning.
func (s *Server) acceptLoop(ln net.Listener) error {
	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else if delay *= 2; delay > time.Second {
					delay = time.Second
				}
				s.config.Logger.Printf("accept error (retrying in %v): %v", delay, err)
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0

		if tc, ok := nc.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		if max := s.config.MaxConnections; max > 0 && s.state.ActiveConnections() >= int64(max) {
			// Refuse the newcomer rather than degrade the connections
			// already being served.
			go s.refuse(nc)
			continue
		}

		c := newConn(s, nc)
		s.track(c)
		go c.serve()
	}
}

// noteRequestDone counts one completed exchange. When the optional
// process-wide request cap is reached it begins a graceful shutdown;
// Serve then returns ErrServerClosed once the drain finishes.
func (s *Server) noteRequestDone() {
	total := s.state.RequestDone()
	if max := s.config.MaxTotalRequests; max > 0 && total == max {
		s.config.Logger.Printf("request cap %d reached, shutting down", max)
		go s.Shutdown(context.Background())
	}
}

// refuse answers an over-capacity connection with a canned 503 and
// closes it.
func (s *Server) refuse(nc net.Conn) {
	nc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	nc.Write(http11.ErrorResponse(503))
	nc.Close()
}

// dateLoop keeps the shared Date header warm so the first request of
// each second never pays for formatting.
func (s *Server) dateLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.state.DateHeader()
		case <-ctx.Done():
			return
		}
	}
}

// track registers a connection and counts it open before its goroutine
// starts, so a concurrent Shutdown can never observe zero connections
// while a tracked one is still alive.
func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.state.ConnOpened()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.state.ConnClosed()
}

// snapshotConns returns the live connections at this instant.
func (s *Server) snapshotConns() []*conn {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	return conns
}

// Shutdown stops the server gracefully: stop accepting, let every
// in-flight exchange finish (keep-alive continuation denied), then run
// the lifespan shutdown hook. The wait is event-driven: the handler
// closing the last connection fires the completion signal. It is bounded
// by the shutdown grace period and ctx, whichever ends first; stragglers
// are force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.inShutdown.CompareAndSwap(false, true) {
		return nil
	}
	s.phase.Store(int32(PhaseStopping))

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	s.state.beginStopping()
	conns := s.snapshotConns()
	s.config.Logger.Printf("shutdown: waiting for %d connection(s)", len(conns))
	for _, c := range conns {
		c.beginShutdown()
	}

	wctx := ctx
	if grace := s.config.ShutdownGrace; grace > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, grace)
		defer cancel()
	}

	waitErr := s.state.allClosed.Wait(wctx)
	if waitErr != nil {
		stragglers := s.snapshotConns()
		s.config.Logger.Printf("shutdown: grace period over, force-closing %d connection(s)", len(stragglers))
		for _, c := range stragglers {
			c.forceClose()
		}
	}

	hookErr := s.config.Lifespan.Shutdown(ctx)

	s.baseCancel()
	s.phase.Store(int32(PhaseStopped))
	s.config.Logger.Printf("shutdown complete (%d request(s) served)", s.state.TotalRequests())

	if waitErr != nil {
		return waitErr
	}
	return hookErr
}

// Close stops the server immediately, severing every connection without
// waiting for in-flight exchanges. The lifespan shutdown hook still runs.
func (s *Server) Close() error {
	if !s.inShutdown.CompareAndSwap(false, true) {
		return nil
	}
	s.phase.Store(int32(PhaseStopping))

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	s.state.beginStopping()
	for _, c := range s.snapshotConns() {
		c.forceClose()
	}
	s.baseCancel()

	hookErr := s.config.Lifespan.Shutdown(context.Background())
	s.phase.Store(int32(PhaseStopped))
	return hookErr
}
