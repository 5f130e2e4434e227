package http11

import (
	"strconv"
	"strings"
)

// RequestHead is the parsed request line and headers of one exchange.
// Body bytes are not part of the head; the connection streams them
// separately according to the framing recorded here.
type RequestHead struct {
	Method string
	Target string // raw request-target, query string included
	Proto  string

	ProtoMajor int
	ProtoMinor int

	Header Header

	// ContentLength is the declared body length, or -1 when absent.
	ContentLength int64

	// Chunked is true for Transfer-Encoding: chunked bodies.
	Chunked bool

	// ConnClose is true when the client signaled Connection: close.
	ConnClose bool

	// ExpectContinue is true for Expect: 100-continue requests.
	ExpectContinue bool
}

// HasBody reports whether the request carries a message body.
func (h *RequestHead) HasBody() bool {
	return h.Chunked || h.ContentLength > 0
}

// KeepAliveRequested reports the client side of keep-alive eligibility:
// HTTP/1.1 defaults to persistent unless Connection: close; HTTP/1.0
// requires an explicit Connection: keep-alive.
func (h *RequestHead) KeepAliveRequested() bool {
	if h.ConnClose {
		return false
	}
	if h.ProtoMajor == 1 && h.ProtoMinor == 0 {
		return connectionHasToken(h.Header.Get(HeaderConnection), ValueKeepAlive)
	}
	return true
}

// finalize derives body framing and connection semantics from the parsed
// headers. Called once by the parser after the blank line.
func (h *RequestHead) finalize() error {
	// Body framing. RFC 7230 §3.3.3: Transfer-Encoding wins over
	// Content-Length, but a message carrying both is a smuggling vector
	// and must be rejected outright.
	te := h.Header.Values(HeaderTransferEncoding)
	cls := h.Header.Values(HeaderContentLength)

	if len(te) > 0 {
		if len(cls) > 0 {
			return ErrAmbiguousFraming
		}
		if len(te) != 1 || !strings.EqualFold(strings.TrimSpace(te[0]), ValueChunked) {
			// Only the final "chunked" coding is supported.
			return ErrInvalidHeader
		}
		h.Chunked = true
	} else if len(cls) > 0 {
		// Duplicate Content-Length fields must agree exactly.
		for _, v := range cls[1:] {
			if v != cls[0] {
				return ErrAmbiguousFraming
			}
		}
		n, err := strconv.ParseInt(strings.TrimSpace(cls[0]), 10, 64)
		if err != nil || n < 0 {
			return ErrInvalidContentLength
		}
		h.ContentLength = n
	}

	if connectionHasToken(h.Header.Get(HeaderConnection), ValueClose) {
		h.ConnClose = true
	}

	if h.HasBody() && strings.EqualFold(strings.TrimSpace(h.Header.Get(HeaderExpect)), ValueContinue) {
		h.ExpectContinue = true
	}

	return nil
}

// connectionHasToken reports whether the comma-separated Connection header
// value contains the given token (case-insensitive).
func connectionHasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
