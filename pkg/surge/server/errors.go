package server

import "errors"

// Pre-allocated errors surfaced across the application boundary.
var (
	// ErrServerClosed is returned by Serve and ListenAndServe after
	// Shutdown or Close.
	ErrServerClosed = errors.New("server: closed")

	// ErrAlreadyServing indicates Serve was called on a server that is
	// not in the NotStarted phase.
	ErrAlreadyServing = errors.New("server: already serving")

	// ErrClientGone indicates the transport closed mid-cycle. Body pulls
	// and response pushes fail fast with this instead of blocking; it is
	// never answered on the wire because there is no client to answer.
	ErrClientGone = errors.New("server: client disconnected")

	// ErrResponseNotStarted indicates a body write before WriteHeader.
	// This is a programming-contract violation, fatal to the cycle.
	ErrResponseNotStarted = errors.New("server: response body written before headers")

	// ErrResponseStarted indicates a second WriteHeader call. Also a
	// fatal contract violation, never silently ignored.
	ErrResponseStarted = errors.New("server: response headers already sent")

	// ErrHandlerRequired indicates a server was constructed without a
	// Handler.
	ErrHandlerRequired = errors.New("server: Handler is required")

	// ErrBodyOverrun indicates the application wrote more body bytes
	// than its declared Content-Length.
	ErrBodyOverrun = errors.New("server: body exceeds declared content-length")

	// ErrBodyTruncated indicates the application finished with fewer body
	// bytes than its declared Content-Length. The framing on the wire is
	// already wrong, so the connection is closed.
	ErrBodyTruncated = errors.New("server: body shorter than declared content-length")

	// ErrRequestTimeout indicates the client stopped sending mid-request
	// for longer than the configured read timeout. Answered with 408 when
	// protocol state still allows a response.
	ErrRequestTimeout = errors.New("server: timed out waiting for request bytes")
)
