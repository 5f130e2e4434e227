package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// startTestServer runs a server on a loopback listener and returns its
// address. The server is closed with the test.
func startTestServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	srv := New(cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return srv, ln.Addr().String()
}

func dialTest(t *testing.T, addr string) net.Conn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	nc.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { nc.Close() })
	return nc
}

// readResponse parses one response off br, fully reading its body.
func readResponse(t *testing.T, br *bufio.Reader, method string) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return resp, string(body)
}

// echoTargetHandler answers every request with its own target path as a
// fixed-length body.
func echoTargetHandler(ctx context.Context, req *Request, w *ResponseWriter) error {
	body := req.Target()
	w.Header().Set("content-length", strconv.Itoa(len(body)))
	if err := w.WriteHeader(200); err != nil {
		return err
	}
	_, err := w.WriteString(body)
	return err
}

func TestSingleExchange(t *testing.T) {
	srv, addr := startTestServer(t, Config{Handler: echoTargetHandler})

	nc := dialTest(t, addr)
	fmt.Fprintf(nc, "GET /hello HTTP/1.1\r\nhost: test\r\n\r\n")

	resp, body := readResponse(t, bufio.NewReader(nc), "GET")
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if body != "/hello" {
		t.Errorf("body = %q, want %q", body, "/hello")
	}
	if resp.Header.Get("Date") == "" {
		t.Error("missing Date header")
	}
	if got := resp.Header.Get("Server"); got != "surge" {
		t.Errorf("Server header = %q, want %q", got, "surge")
	}
	if resp.Close {
		t.Error("HTTP/1.1 exchange with explicit framing should keep alive")
	}

	waitFor(t, time.Second, func() bool { return srv.State().TotalRequests() == 1 })
}

func TestKeepAliveSequentialExchanges(t *testing.T) {
	srv, addr := startTestServer(t, Config{Handler: echoTargetHandler})

	nc := dialTest(t, addr)
	br := bufio.NewReader(nc)

	for i := 0; i < 3; i++ {
		fmt.Fprintf(nc, "GET /req%d HTTP/1.1\r\nhost: test\r\n\r\n", i)
		_, body := readResponse(t, br, "GET")
		if want := fmt.Sprintf("/req%d", i); body != want {
			t.Fatalf("exchange %d: body = %q, want %q", i, body, want)
		}
	}

	waitFor(t, time.Second, func() bool { return srv.State().TotalRequests() == 3 })
	if n := srv.State().ActiveConnections(); n != 1 {
		t.Errorf("ActiveConnections = %d, want 1", n)
	}
}

func TestPipelinedResponsesInRequestOrder(t *testing.T) {
	secondEntered := make(chan struct{})
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		switch req.Target() {
		case "/first":
			// Finish strictly after the second exchange is already
			// running, so ordering cannot come from completion order.
			select {
			case <-secondEntered:
			case <-time.After(2 * time.Second):
			}
			time.Sleep(20 * time.Millisecond)
		case "/second":
			close(secondEntered)
		}
		return echoTargetHandler(ctx, req, w)
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)

	// Both requests at once, before any response bytes come back.
	fmt.Fprintf(nc, "GET /first HTTP/1.1\r\nhost: t\r\n\r\nGET /second HTTP/1.1\r\nhost: t\r\n\r\n")

	br := bufio.NewReader(nc)
	_, body1 := readResponse(t, br, "GET")
	_, body2 := readResponse(t, br, "GET")

	if body1 != "/first" || body2 != "/second" {
		t.Errorf("responses out of order: got %q then %q", body1, body2)
	}
}

func TestChunkedRequestBodyReassembled(t *testing.T) {
	const chunkSize = 1024
	const chunkCount = 50

	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		var total int
		for {
			chunk, err := req.ReadChunk(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			total += len(chunk)
		}
		return w.WriteJSON(200, map[string]int{"received": total})
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)

	fmt.Fprintf(nc, "POST /upload HTTP/1.1\r\nhost: t\r\ntransfer-encoding: chunked\r\n\r\n")
	piece := strings.Repeat("x", chunkSize)
	for i := 0; i < chunkCount; i++ {
		fmt.Fprintf(nc, "%x\r\n%s\r\n", chunkSize, piece)
	}
	fmt.Fprintf(nc, "0\r\n\r\n")

	resp, body := readResponse(t, bufio.NewReader(nc), "POST")
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if want := fmt.Sprintf(`{"received":%d}`, chunkSize*chunkCount); body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestBodyBeforeHeadersIsFatal(t *testing.T) {
	var handlerErr atomic.Value
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		_, err := w.Write([]byte("too eager"))
		handlerErr.Store(err)
		return err
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)
	fmt.Fprintf(nc, "GET / HTTP/1.1\r\nhost: t\r\n\r\n")

	resp, _ := readResponse(t, bufio.NewReader(nc), "GET")
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if !resp.Close {
		t.Error("contract violation must close the connection")
	}
	if err, _ := handlerErr.Load().(error); !errors.Is(err, ErrResponseNotStarted) {
		t.Errorf("handler error = %v, want ErrResponseNotStarted", err)
	}

	// The transport must actually close.
	if _, err := bufio.NewReader(nc).ReadByte(); err != io.EOF {
		t.Errorf("connection still open after violation: %v", err)
	}
}

func TestDoubleWriteHeaderIsFatal(t *testing.T) {
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		w.Header().Set("content-length", "2")
		if err := w.WriteHeader(200); err != nil {
			return err
		}
		if _, err := w.WriteString("ok"); err != nil {
			return err
		}
		return w.WriteHeader(201)
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)
	fmt.Fprintf(nc, "GET / HTTP/1.1\r\nhost: t\r\n\r\n")

	br := bufio.NewReader(nc)
	resp, body := readResponse(t, br, "GET")
	if resp.StatusCode != 200 || body != "ok" {
		t.Fatalf("first response corrupted: %d %q", resp.StatusCode, body)
	}

	// Headers already left, so the violation can only close abruptly.
	// No second status line may follow.
	if b, err := br.ReadByte(); err != io.EOF {
		t.Errorf("expected close after violation, got byte %q err %v", b, err)
	}
}

func TestClientDisconnectMidBody(t *testing.T) {
	pullResult := make(chan error, 1)
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		for {
			_, err := req.ReadChunk(ctx)
			if err != nil {
				pullResult <- err
				return err
			}
		}
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)
	fmt.Fprintf(nc, "POST / HTTP/1.1\r\nhost: t\r\ncontent-length: 1000\r\n\r\npartial")
	nc.Close()

	select {
	case err := <-pullResult:
		if !errors.Is(err, ErrClientGone) {
			t.Errorf("puller returned %v, want ErrClientGone", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("body puller hung after client disconnect")
	}
}

func TestExpectContinue(t *testing.T) {
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		var total int
		for {
			chunk, err := req.ReadChunk(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			total += len(chunk)
		}
		return w.WriteJSON(200, map[string]int{"got": total})
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)
	br := bufio.NewReader(nc)

	fmt.Fprintf(nc, "POST / HTTP/1.1\r\nhost: t\r\ncontent-length: 5\r\nexpect: 100-continue\r\n\r\n")

	interim, _ := readResponse(t, br, "POST")
	if interim.StatusCode != 100 {
		t.Fatalf("interim status = %d, want 100", interim.StatusCode)
	}

	fmt.Fprintf(nc, "hello")
	resp, body := readResponse(t, br, "POST")
	if resp.StatusCode != 200 || body != `{"got":5}` {
		t.Errorf("final response: %d %q", resp.StatusCode, body)
	}
}

func TestHeadSuppressesBody(t *testing.T) {
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		w.Header().Set("content-length", "5")
		if err := w.WriteHeader(200); err != nil {
			return err
		}
		_, err := w.WriteString("hello")
		return err
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)
	br := bufio.NewReader(nc)

	fmt.Fprintf(nc, "HEAD / HTTP/1.1\r\nhost: t\r\n\r\n")
	resp, body := readResponse(t, br, "HEAD")
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.ContentLength != 5 {
		t.Errorf("ContentLength = %d, want 5", resp.ContentLength)
	}
	if body != "" {
		t.Errorf("HEAD response carried body %q", body)
	}

	// The connection must stay aligned for the next exchange.
	fmt.Fprintf(nc, "HEAD /again HTTP/1.1\r\nhost: t\r\n\r\n")
	resp2, _ := readResponse(t, br, "HEAD")
	if resp2.StatusCode != 200 {
		t.Errorf("second exchange status = %d, want 200", resp2.StatusCode)
	}
}

func TestMalformedRequestLine(t *testing.T) {
	_, addr := startTestServer(t, Config{Handler: echoTargetHandler})
	nc := dialTest(t, addr)

	fmt.Fprintf(nc, "garbage\r\n\r\n")
	resp, _ := readResponse(t, bufio.NewReader(nc), "GET")
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if !resp.Close {
		t.Error("parse error must close the connection")
	}
}

func TestSmuggledFramingRejected(t *testing.T) {
	_, addr := startTestServer(t, Config{Handler: echoTargetHandler})
	nc := dialTest(t, addr)

	fmt.Fprintf(nc, "POST / HTTP/1.1\r\nhost: t\r\ncontent-length: 4\r\ntransfer-encoding: chunked\r\n\r\n")
	resp, _ := readResponse(t, bufio.NewReader(nc), "POST")
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConnectionCloseRequested(t *testing.T) {
	srv, addr := startTestServer(t, Config{Handler: echoTargetHandler})
	nc := dialTest(t, addr)
	br := bufio.NewReader(nc)

	fmt.Fprintf(nc, "GET / HTTP/1.1\r\nhost: t\r\nconnection: close\r\n\r\n")
	resp, _ := readResponse(t, br, "GET")
	if !resp.Close {
		t.Error("response must acknowledge Connection: close")
	}
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("connection still open: %v", err)
	}
	waitFor(t, time.Second, func() bool { return srv.State().ActiveConnections() == 0 })
}

func TestHTTP10WithoutKeepAlive(t *testing.T) {
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		// No Content-Length: an HTTP/1.0 response without one is
		// close-delimited, which rules keep-alive out.
		if err := w.WriteHeader(200); err != nil {
			return err
		}
		_, err := w.WriteString("legacy")
		return err
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)

	fmt.Fprintf(nc, "GET / HTTP/1.0\r\n\r\n")
	resp, body := readResponse(t, bufio.NewReader(nc), "GET")
	if !resp.Close {
		t.Error("ambiguous framing must force close")
	}
	if body != "legacy" {
		t.Errorf("body = %q, want %q", body, "legacy")
	}
}

func TestMaxRequestsPerConn(t *testing.T) {
	_, addr := startTestServer(t, Config{Handler: echoTargetHandler, MaxRequestsPerConn: 1})
	nc := dialTest(t, addr)
	br := bufio.NewReader(nc)

	fmt.Fprintf(nc, "GET /only HTTP/1.1\r\nhost: t\r\n\r\n")
	resp, _ := readResponse(t, br, "GET")
	if !resp.Close {
		t.Error("request cap must advertise Connection: close")
	}
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("connection still open past request cap: %v", err)
	}
}

func TestOversizedDeclaredBodyRefused(t *testing.T) {
	_, addr := startTestServer(t, Config{Handler: echoTargetHandler, MaxRequestBodySize: 1024})
	nc := dialTest(t, addr)

	fmt.Fprintf(nc, "POST / HTTP/1.1\r\nhost: t\r\ncontent-length: 4096\r\n\r\n")
	resp, _ := readResponse(t, bufio.NewReader(nc), "POST")
	if resp.StatusCode != 413 {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestHandlerPanicAnswered500(t *testing.T) {
	handler := func(ctx context.Context, req *Request, w *ResponseWriter) error {
		panic("boom")
	}

	_, addr := startTestServer(t, Config{Handler: handler})
	nc := dialTest(t, addr)

	fmt.Fprintf(nc, "GET / HTTP/1.1\r\nhost: t\r\n\r\n")
	resp, _ := readResponse(t, bufio.NewReader(nc), "GET")
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if !resp.Close {
		t.Error("panic response must close the connection")
	}
}

func TestIdleTimeoutWithPartialHeadAnswers408(t *testing.T) {
	_, addr := startTestServer(t, Config{Handler: echoTargetHandler, ReadTimeout: 100 * time.Millisecond})
	nc := dialTest(t, addr)

	// A started-but-stalled request head is a client timeout, answered
	// with 408 while protocol state still allows a response.
	fmt.Fprintf(nc, "GET / HTTP/1.1\r\nhost:")
	resp, _ := readResponse(t, bufio.NewReader(nc), "GET")
	if resp.StatusCode != 408 {
		t.Errorf("status = %d, want 408", resp.StatusCode)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
