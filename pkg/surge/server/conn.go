package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/surge/pkg/surge/flow"
	"github.com/yourusername/surge/pkg/surge/http11"
)

// ConnState is the state of one connection handler.
type ConnState int32

const (
	// StateIdle means no cycle is active; the handler is waiting for the
	// next request head (or the first one).
	StateIdle ConnState = iota

	// StateReadingRequest means a request head or body is being parsed.
	StateReadingRequest

	// StateProcessing means the exchange was handed to the application,
	// possibly while the next request's bytes are already being read.
	StateProcessing

	// StateWritingResponse means response bytes are being queued.
	StateWritingResponse

	// StateClosing means the handler is winding down: in-flight work is
	// settled and queued bytes are flushed.
	StateClosing

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingRequest:
		return "reading-request"
	case StateProcessing:
		return "processing"
	case StateWritingResponse:
		return "writing-response"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// outboundQueueDepth is the buffered-channel depth between producers and
// the write loop. Backpressure comes from the flow controller's
// watermarks, not from this depth; it only decouples the goroutines.
const outboundQueueDepth = 64

// conn owns one accepted transport: it converts the byte stream into an
// ordered sequence of request/response cycles and enforces pipelining
// order, keep-alive rules, and flow control.
//
// Goroutine layout:
//   - readLoop (the conn's own goroutine): parses heads, streams body
//     chunks to the active cycle, spawns cycle goroutines
//   - writeLoop: drains the outbound queue to the socket and reports
//     drained bytes to the flow controller
//   - one goroutine per cycle: runs the application
//
// All outbound bytes pass through enqueue, which blocks under
// backpressure and fails fast once ctx is canceled. ctx cancellation is
// the single "connection is dead" signal observed by every party.
type conn struct {
	srv     *Server
	netConn net.Conn
	br      *bufio.Reader
	parser  *http11.Parser
	fc      *flow.Controller

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	requests atomic.Int32

	outq       chan *bytebufferpool.ByteBuffer
	writerDone chan struct{}

	// sdRequested is set by the lifecycle controller: finish the
	// in-flight exchange but decline to start another.
	sdRequested atomic.Bool

	cycleWG sync.WaitGroup

	// last is the most recently spawned cycle; only the read loop
	// touches it.
	last *cycle
}

func newConn(s *Server, nc net.Conn) *conn {
	ctx, cancel := context.WithCancel(s.baseCtx)
	return &conn{
		srv:        s,
		netConn:    nc,
		br:         bufio.NewReaderSize(nc, s.config.ReadBufferSize),
		parser:     http11.NewParser(),
		fc:         flow.NewController(s.config.HighWatermark, s.config.LowWatermark),
		ctx:        ctx,
		cancel:     cancel,
		outq:       make(chan *bytebufferpool.ByteBuffer, outboundQueueDepth),
		writerDone: make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *conn) setState(s ConnState) {
	c.state.Store(int32(s))
}

func (c *conn) logf(format string, args ...interface{}) {
	c.srv.config.Logger.Printf(c.netConn.RemoteAddr().String()+": "+format, args...)
}

// shuttingDown reports whether a new exchange may no longer start.
func (c *conn) shuttingDown() bool {
	return c.sdRequested.Load() || c.srv.state.stopping.Load()
}

// keepAliveDisallowed reports the server side of keep-alive ineligibility;
// the client side lives on the request head.
func (c *conn) keepAliveDisallowed() bool {
	cfg := &c.srv.config
	if cfg.DisableKeepAlive || c.shuttingDown() {
		return true
	}
	return cfg.MaxRequestsPerConn > 0 && int(c.requests.Load()) >= cfg.MaxRequestsPerConn
}

// declineNewRequests stops the read loop from starting another exchange,
// waking it if it is blocked waiting for one. Called when a settled cycle
// denied keep-alive and by the shutdown path.
func (c *conn) declineNewRequests() {
	c.sdRequested.Store(true)
	c.netConn.SetReadDeadline(time.Now())
}

// beginShutdown asks the handler to finish its in-flight exchange and
// close. A handler idle between requests is woken immediately by
// expiring its read deadline; an active one observes the flag before
// starting the next exchange.
func (c *conn) beginShutdown() {
	if c.State() == StateIdle {
		c.declineNewRequests()
	} else {
		c.sdRequested.Store(true)
	}
}

// forceClose severs the transport. Used when the shutdown grace period
// expires.
func (c *conn) forceClose() {
	c.sdRequested.Store(true)
	c.cancel()
	c.netConn.Close()
}

// serve runs the connection to completion. It is the conn's goroutine.
func (c *conn) serve() {
	defer c.srv.untrack(c)

	go c.writeLoop()
	c.readLoop()
	c.finish()
}

// readLoop drives the protocol state machine: head, body, next head.
// Returns when the connection can no longer produce exchanges.
func (c *conn) readLoop() {
	cfg := &c.srv.config

	for {
		c.setState(StateIdle)
		if c.shuttingDown() {
			return
		}

		// The first request gets the read timeout; between keep-alive
		// requests the idle timeout applies.
		d := cfg.ReadTimeout
		if c.requests.Load() > 0 {
			d = cfg.IdleTimeout
		}
		if d > 0 {
			c.netConn.SetReadDeadline(time.Now().Add(d))
		}
		// A decline racing the deadline refresh above must not be lost.
		if c.shuttingDown() {
			return
		}

		head, err := c.parser.ReadHead(c.br)
		if err != nil {
			c.readFailure(err)
			return
		}
		c.setState(StateReadingRequest)

		if head.ContentLength > cfg.MaxRequestBodySize {
			c.respondError(413)
			return
		}

		clientClose := !head.KeepAliveRequested()

		prevCy := c.last
		cy := newCycle(c, head, prevCy)
		c.last = cy
		c.requests.Add(1)
		c.setState(StateProcessing)
		c.cycleWG.Add(1)
		go cy.run(cfg.Handler)

		if err := c.streamBody(cy); err != nil {
			return
		}

		// Pipelining depth is bounded: one exchange draining its
		// response plus one being parsed. A third head is not read until
		// the oldest exchange has settled.
		if prevCy != nil {
			select {
			case <-prevCy.settled:
			case <-c.ctx.Done():
				return
			}
		}

		// Client-side keep-alive refusal is known from the head; the
		// server side (framing ambiguity, app's Connection: close) is
		// settled by the cycle and observed through waitTurn.
		if clientClose || c.keepAliveDisallowed() {
			return
		}
	}
}

// readFailure settles a failed head read: answer 400/408-class when
// protocol state allows, stay silent on clean closes and shutdown.
func (c *conn) readFailure(err error) {
	switch {
	case err == io.EOF:
		// Peer closed cleanly between requests.
	case errors.Is(err, net.ErrClosed):
		// We closed it (force-close path).
	case errors.Is(err, os.ErrDeadlineExceeded):
		if c.shuttingDown() {
			return
		}
		if c.parser.Consumed() == 0 && c.requests.Load() > 0 {
			// Idle keep-alive connection timed out: nothing to answer.
			return
		}
		c.respondError(408)
	case http11.IsProtocolError(err):
		c.logf("protocol error: %v", err)
		c.respondError(statusForParseError(err))
	case errors.Is(err, http11.ErrUnexpectedEOF):
		// Peer died mid-head.
	default:
		c.logf("read error: %v", err)
	}
}

// statusForParseError maps a parse/protocol violation to its 400-class
// response code.
func statusForParseError(err error) int {
	switch {
	case errors.Is(err, http11.ErrRequestLineTooLarge):
		return 414
	case errors.Is(err, http11.ErrHeadTooLarge), errors.Is(err, http11.ErrTooManyHeaders):
		return 431
	case errors.Is(err, http11.ErrUnsupportedProtocol):
		return 505
	default:
		return 400
	}
}

// respondError queues a canned error response, after every earlier
// pipelined response has been settled and only if the connection is not
// already committed to closing without one.
func (c *conn) respondError(code int) {
	if c.last != nil {
		if err := c.last.done.Wait(c.ctx); err != nil {
			return
		}
		if c.last.abort || !c.last.keepAlive {
			return
		}
	}
	bb := bytebufferpool.Get()
	bb.B = append(bb.B, http11.ErrorResponse(code)...)
	if err := c.enqueue(bb); err != nil {
		return
	}
}

// streamBody delivers the request body to the active cycle as a finite
// sequence of chunks. It withholds chunks while flow control is paused,
// switches to discarding once the cycle completes without consuming the
// rest, and records the failure reason for the puller on abnormal ends.
//
// A non-nil return means the connection cannot carry further requests.
func (c *conn) streamBody(cy *cycle) error {
	fail, err := c.copyBody(cy)
	cy.bodyFail = fail
	close(cy.bodyCh)
	return err
}

func (c *conn) copyBody(cy *cycle) (bodyFail, connErr error) {
	head := cy.head
	if !head.HasBody() {
		return nil, nil
	}
	cfg := &c.srv.config

	var src io.Reader
	if head.Chunked {
		src = http11.NewChunkedReader(c.br, uint64(cfg.MaxRequestBodySize))
	} else {
		src = io.LimitReader(c.br, head.ContentLength)
	}

	var got int64
	discarding := false
	for {
		if !discarding {
			// Paused flow control also withholds inbound chunks from
			// the application.
			if err := c.fc.WaitWritable(c.ctx); err != nil {
				return ErrClientGone, ErrClientGone
			}
		}
		if d := cfg.ReadTimeout; d > 0 {
			c.netConn.SetReadDeadline(time.Now().Add(d))
		}

		buf := make([]byte, cfg.ReadBufferSize)
		n, err := src.Read(buf)
		got += int64(n)
		if n > 0 && !discarding {
			select {
			case cy.bodyCh <- buf[:n]:
			case <-cy.done.Done():
				// Cycle finished without the rest of the body; drain
				// it so the next pipelined head starts clean.
				discarding = true
			case <-c.ctx.Done():
				return ErrClientGone, ErrClientGone
			}
		}
		if err == nil {
			continue
		}

		switch {
		case err == io.EOF:
			// A LimitReader reports EOF both at the declared length and
			// on a premature peer close; only the byte count tells the
			// two apart. The chunked reader distinguishes them itself.
			if !head.Chunked && got < head.ContentLength {
				return ErrClientGone, ErrClientGone
			}
			return nil, nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			return ErrRequestTimeout, err
		case errors.Is(err, net.ErrClosed):
			return ErrClientGone, err
		case errors.Is(err, http11.ErrUnexpectedEOF):
			return ErrClientGone, ErrClientGone
		default:
			// Chunked-encoding violations and size-cap hits surface to
			// the puller as-is; all of them end the connection.
			return err, err
		}
	}
}

// enqueue queues one buffer of response bytes for the write loop. It
// blocks while flow control is paused and fails fast with ErrClientGone
// once the connection is dead. Ownership of bb transfers on success;
// on failure it is returned to the pool here.
func (c *conn) enqueue(bb *bytebufferpool.ByteBuffer) error {
	n := len(bb.B)
	if n == 0 {
		bytebufferpool.Put(bb)
		return nil
	}
	if err := c.fc.WaitWritable(c.ctx); err != nil {
		bytebufferpool.Put(bb)
		return ErrClientGone
	}
	c.fc.Add(n)
	select {
	case c.outq <- bb:
		return nil
	case <-c.ctx.Done():
		c.fc.Drained(n)
		bytebufferpool.Put(bb)
		return ErrClientGone
	}
}

// writeLoop drains the outbound queue to the socket. Each flushed buffer
// is reported to the flow controller, which may resume paused producers.
// A nil buffer is the flush sentinel: everything queued before it has
// reached the socket.
func (c *conn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case bb := <-c.outq:
			if bb == nil {
				return
			}
			if !c.writeBuffer(bb) {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *conn) writeBuffer(bb *bytebufferpool.ByteBuffer) bool {
	if d := c.srv.config.WriteTimeout; d > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(d))
	}
	_, err := c.netConn.Write(bb.B)
	n := len(bb.B)
	bytebufferpool.Put(bb)
	c.fc.Drained(n)
	if err != nil {
		// Dead transport: wake everyone blocked on this connection.
		c.cancel()
		return false
	}
	return true
}

// finish winds the connection down: settle the in-flight cycle within
// the grace period, flush queued response bytes, then sever the
// transport and abandon any application code that ignored its
// cancellation.
func (c *conn) finish() {
	c.setState(StateClosing)
	cfg := &c.srv.config

	// The in-flight cycle gets to finish its response: a read-side EOF
	// may be a half-close with the client still reading. Only once the
	// transport is known dead does the grace period bound the wait.
	lastSettled := true
	if c.last != nil {
		select {
		case <-c.last.done.Done():
		case <-c.ctx.Done():
			grace := time.NewTimer(cfg.CycleGrace)
			select {
			case <-c.last.done.Done():
			case <-grace.C:
				lastSettled = false
			}
			grace.Stop()
		}
	}

	// Flush whatever the settled cycles queued. If the writer already
	// died the sentinel is skipped.
	if lastSettled {
		select {
		case c.outq <- nil:
			<-c.writerDone
		case <-c.writerDone:
		}
	}

	c.cancel()
	c.netConn.Close()

	// Cycle goroutines observe the cancellation through failed pulls and
	// pushes. One that keeps running regardless is abandoned, and its
	// completion event stays out of the pool.
	settled := make(chan struct{})
	go func() {
		c.cycleWG.Wait()
		close(settled)
	}()
	select {
	case <-settled:
		if c.last != nil && c.last.done.IsSet() {
			c.srv.state.Events().Release(c.last.done)
			c.last = nil
		}
	case <-time.After(cfg.CycleGrace):
		c.logf("abandoning handler still running after close")
	}

	c.setState(StateClosed)
}
