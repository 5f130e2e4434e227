package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/surge/pkg/surge"
	"github.com/yourusername/surge/pkg/surge/http11"
)

// Handler is the application boundary: it consumes a request description
// and produces a response through the two capabilities it is handed, the
// body-chunk puller on Request and the response writer.
//
// The handler runs in its own goroutine per exchange. Body pulls suspend
// until data, end-of-body, or disconnect; response pushes suspend under
// backpressure. ctx is canceled when the connection dies; a handler that
// keeps running past cancellation is abandoned after a bounded grace
// period.
type Handler func(ctx context.Context, req *Request, w *ResponseWriter) error

// cycle is one request/response exchange: the single source of truth for
// that exchange's protocol correctness.
//
// Ownership: head and outcome fields are written by the handler goroutine
// (through ResponseWriter) and read by the connection only after the
// completion event fires. bodyFail is written by the connection's read
// loop before bodyCh closes and read by the handler after the channel
// drains. Neither crossing needs extra locking.
type cycle struct {
	conn *conn
	head *http11.RequestHead

	// Body chunks from the read loop. Closed at end-of-body; bodyFail
	// holds the reason when the body terminated abnormally.
	bodyCh   chan []byte
	bodyFail error

	// prev chains response ordering: this exchange may not write a byte
	// until prev's response is fully queued. nil for the first exchange.
	prev *cycle

	// done is the exchange's single terminal event, from the shared pool.
	done *surge.Event

	// settled closes with done. Unlike done it is never pooled, so the
	// read loop may wait on it without caring whether a successor cycle
	// has already recycled done.
	settled chan struct{}

	continueSent bool

	// Outcome, valid once done is set.
	keepAlive bool
	abort     bool
}

func newCycle(c *conn, head *http11.RequestHead, prev *cycle) *cycle {
	return &cycle{
		conn:    c,
		head:    head,
		bodyCh:  make(chan []byte),
		prev:    prev,
		done:    c.srv.state.Events().Acquire(),
		settled: make(chan struct{}),
	}
}

// waitTurn blocks until the previous exchange's response is fully queued,
// enforcing that pipelined responses leave in request order.
func (cy *cycle) waitTurn() error {
	if cy.prev == nil {
		return nil
	}
	if err := cy.prev.done.Wait(cy.conn.ctx); err != nil {
		return ErrClientGone
	}
	if cy.prev.abort || !cy.prev.keepAlive {
		// The connection closes after the previous response; this
		// exchange's response is never written.
		return ErrClientGone
	}
	return nil
}

// run executes the application and settles the exchange outcome. Runs in
// its own goroutine; the connection observes completion via cy.done.
func (cy *cycle) run(app Handler) {
	defer cy.conn.cycleWG.Done()

	req := &Request{cycle: cy, remoteAddr: cy.conn.netConn.RemoteAddr()}
	w := &ResponseWriter{cycle: cy, status: 200, contentLength: -1}

	cy.finish(w, cy.invoke(app, req, w))
}

// invoke calls the application, converting a panic into an application
// error so one bad exchange never takes down the connection goroutines.
func (cy *cycle) invoke(app Handler, req *Request, w *ResponseWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server: application panic: %v", r)
		}
	}()
	return app(cy.conn.ctx, req, w)
}

// finish classifies the exchange outcome and fires the completion event,
// exactly once per cycle.
func (cy *cycle) finish(w *ResponseWriter, appErr error) {
	defer func() {
		cy.conn.srv.noteRequestDone()
		cy.done.Set()
		close(cy.settled)
		// Once done is set this goroutine never touches prev again, and
		// prev's event has no other waiters left: return it to the pool.
		if cy.prev != nil {
			cy.conn.srv.state.Events().Release(cy.prev.done)
			cy.prev = nil
		}
		// A denied keep-alive ends the connection; wake the read loop so
		// it closes after the flush instead of idling until timeout.
		if cy.abort || !cy.keepAlive {
			cy.conn.declineNewRequests()
		}
	}()

	// A contract violation is fatal even when the application swallowed
	// the error and returned nil.
	if appErr == nil && w.violation != nil {
		appErr = w.violation
	}

	switch {
	case appErr == nil && w.started:
		if err := w.finishBody(); err != nil {
			cy.abort = true
			return
		}
		cy.keepAlive = w.framingOK && !w.connClose
	case appErr == nil:
		// Application returned without producing a response.
		cy.conn.logf("handler returned without starting a response")
		cy.sendError(500)
	case errors.Is(appErr, ErrClientGone) || errors.Is(appErr, context.Canceled):
		// Disconnect: nobody left to answer; terminate silently.
		cy.abort = true
	case errors.Is(appErr, ErrRequestTimeout):
		// Client stalled mid-body.
		if w.started {
			cy.abort = true
		} else {
			cy.sendError(408)
		}
	case errors.Is(appErr, http11.ErrBodyTooLarge):
		if w.started {
			cy.abort = true
		} else {
			cy.sendError(413)
		}
	case http11.IsProtocolError(appErr):
		// Malformed request body surfaced through the puller.
		if w.started {
			cy.abort = true
		} else {
			cy.sendError(400)
		}
	default:
		cy.conn.logf("application error: %v", appErr)
		if w.started {
			// Framing already compromised; only closure is honest.
			cy.abort = true
		} else {
			cy.sendError(500)
		}
	}
}

// sendError queues a canned self-framed error response. Engine-generated
// errors always close the connection afterwards.
func (cy *cycle) sendError(code int) {
	cy.keepAlive = false
	if err := cy.waitTurn(); err != nil {
		cy.abort = true
		return
	}
	bb := bytebufferpool.Get()
	bb.B = append(bb.B, http11.ErrorResponse(code)...)
	if err := cy.conn.enqueue(bb); err != nil {
		cy.abort = true
	}
}

// sendContinue queues the interim 100 Continue response, once.
func (cy *cycle) sendContinue() error {
	if err := cy.waitTurn(); err != nil {
		return err
	}
	bb := bytebufferpool.Get()
	bb.B = append(bb.B, http11.ContinueResponse()...)
	if err := cy.conn.enqueue(bb); err != nil {
		return ErrClientGone
	}
	return nil
}

// Request is the request description handed to the application.
type Request struct {
	cycle      *cycle
	remoteAddr net.Addr
}

// Head returns the parsed request line and headers.
func (r *Request) Head() *http11.RequestHead { return r.cycle.head }

// Method returns the request method.
func (r *Request) Method() string { return r.cycle.head.Method }

// Target returns the raw request-target.
func (r *Request) Target() string { return r.cycle.head.Target }

// Header returns the request headers.
func (r *Request) Header() *http11.Header { return &r.cycle.head.Header }

// RemoteAddr returns the client's network address.
func (r *Request) RemoteAddr() net.Addr { return r.remoteAddr }

// ReadChunk pulls the next request-body chunk. It suspends until data
// arrives, returns io.EOF at end-of-body, and fails fast with
// ErrClientGone when the transport dies; it never blocks forever on a
// dead connection.
//
// For Expect: 100-continue requests the interim response is written
// before the first pull, at most once.
//
// The chunk sequence is finite and not restartable: each chunk is
// delivered exactly once.
func (r *Request) ReadChunk(ctx context.Context) ([]byte, error) {
	cy := r.cycle

	if cy.head.ExpectContinue && !cy.continueSent {
		cy.continueSent = true
		if err := cy.sendContinue(); err != nil {
			return nil, err
		}
	}

	select {
	case chunk, ok := <-cy.bodyCh:
		if !ok {
			if cy.bodyFail != nil {
				return nil, cy.bodyFail
			}
			return nil, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cy.conn.ctx.Done():
		return nil, ErrClientGone
	}
}

// ResponseWriter is the response capability handed to the application.
// WriteHeader must be called exactly once before any Write; both rules
// are enforced, not assumed.
type ResponseWriter struct {
	cycle  *cycle
	header http11.Header
	status int

	started       bool
	chunked       bool
	contentLength int64 // -1 until declared
	written       int64
	suppressBody  bool // HEAD, 1xx, 204, 304
	connClose     bool
	framingOK     bool
	violation     error
}

// Header returns the response headers. Mutations after WriteHeader have
// no effect on the wire.
func (w *ResponseWriter) Header() *http11.Header { return &w.header }

// Status returns the status code passed to WriteHeader, or 200 before it.
func (w *ResponseWriter) Status() int { return w.status }

// WriteHeader sends the status line and headers. It decides body framing
// (declared Content-Length, else chunked for HTTP/1.1, else
// close-delimited) and the response side of keep-alive. A second call is
// a fatal contract violation.
//
// Blocks until all earlier pipelined responses are queued, preserving
// request order on the wire.
func (w *ResponseWriter) WriteHeader(status int) error {
	if w.started {
		w.violation = ErrResponseStarted
		return ErrResponseStarted
	}
	cy := w.cycle
	c := cy.conn
	head := cy.head

	if err := cy.waitTurn(); err != nil {
		return err
	}

	w.status = status
	w.suppressBody = head.Method == http11.MethodHead ||
		status < 200 || status == 204 || status == 304

	// Body framing: a declared Content-Length wins; otherwise chunked
	// for HTTP/1.1 peers. HTTP/1.0 without a length is close-delimited,
	// which rules keep-alive out.
	if cl := w.header.Get(http11.HeaderContentLength); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			w.contentLength = n
			w.framingOK = true
		} else {
			w.header.Del(http11.HeaderContentLength)
		}
	}
	if w.contentLength < 0 {
		if w.suppressBody {
			w.framingOK = true
		} else if head.ProtoMinor == 1 {
			w.chunked = true
			w.framingOK = true
			w.header.Set(http11.HeaderTransferEncoding, http11.ValueChunked)
		}
	}

	appClose := strings.EqualFold(strings.TrimSpace(w.header.Get(http11.HeaderConnection)), http11.ValueClose)
	if appClose || !w.framingOK || !head.KeepAliveRequested() || c.keepAliveDisallowed() {
		w.connClose = true
		w.header.Set(http11.HeaderConnection, http11.ValueClose)
	} else if head.ProtoMinor == 0 {
		w.header.Set(http11.HeaderConnection, http11.ValueKeepAlive)
	}

	cfg := &c.srv.config
	if !cfg.DisableDateHeader && !w.header.Has(http11.HeaderDate) {
		w.header.Add(http11.HeaderDate, c.srv.state.DateHeader())
	}
	if !w.header.Has(http11.HeaderServer) {
		w.header.Add(http11.HeaderServer, cfg.ServerHeader)
	}

	bb := bytebufferpool.Get()
	bb.B = http11.AppendResponseHead(bb.B, status, &w.header)
	if err := c.enqueue(bb); err != nil {
		return err
	}

	w.started = true
	c.setState(StateWritingResponse)
	return nil
}

// Write pushes one response-body chunk. Calling it before WriteHeader is
// a fatal contract violation, never silently accepted. Blocks under
// backpressure until the outbound queue drains below the low watermark.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.violation = ErrResponseNotStarted
		return 0, ErrResponseNotStarted
	}
	if len(p) == 0 {
		return 0, nil
	}

	w.written += int64(len(p))
	if w.suppressBody {
		// HEAD responses report the would-be size without body bytes.
		return len(p), nil
	}
	if w.contentLength >= 0 && w.written > w.contentLength {
		w.violation = ErrBodyOverrun
		return 0, ErrBodyOverrun
	}

	bb := bytebufferpool.Get()
	if w.chunked {
		bb.B = http11.AppendChunk(bb.B, p)
	} else {
		bb.B = append(bb.B, p...)
	}
	if err := w.cycle.conn.enqueue(bb); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString pushes a string body chunk.
func (w *ResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// WriteJSON marshals v, declares exact framing, and sends the complete
// response.
func (w *ResponseWriter) WriteJSON(status int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.header.Set(http11.HeaderContentType, "application/json")
	w.header.Set(http11.HeaderContentLength, strconv.Itoa(len(data)))
	if err := w.WriteHeader(status); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// finishBody terminates the response framing: the last chunk for chunked
// responses, and a length check for declared ones. A short body means
// the framing on the wire is a lie, which only closure can fix.
func (w *ResponseWriter) finishBody() error {
	if w.chunked {
		bb := bytebufferpool.Get()
		bb.B = http11.AppendLastChunk(bb.B)
		return w.cycle.conn.enqueue(bb)
	}
	if w.contentLength >= 0 && !w.suppressBody && w.written != w.contentLength {
		return ErrBodyTruncated
	}
	return nil
}
