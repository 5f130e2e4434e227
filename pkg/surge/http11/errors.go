package http11

import "errors"

// Parse and protocol errors. Pre-allocated so the hot path never formats
// error strings. All of these are fatal to the connection that raised them.
var (
	// ErrInvalidRequestLine indicates a malformed request line.
	// Expected format: METHOD SP request-target SP HTTP-version CRLF
	ErrInvalidRequestLine = errors.New("http11: invalid request line")

	// ErrInvalidMethod indicates a malformed or unknown HTTP method token.
	ErrInvalidMethod = errors.New("http11: invalid HTTP method")

	// ErrUnsupportedProtocol indicates a version other than HTTP/1.0 or
	// HTTP/1.1.
	ErrUnsupportedProtocol = errors.New("http11: unsupported protocol version")

	// ErrInvalidHeader indicates a malformed header field line.
	ErrInvalidHeader = errors.New("http11: invalid header field")

	// ErrHeaderInjection indicates a CR or LF inside a header name or value.
	// RFC 7230 §3.2: field values must not contain bare CR or LF.
	ErrHeaderInjection = errors.New("http11: CR/LF in header field")

	// ErrTooManyHeaders indicates more than MaxHeaderCount header fields.
	ErrTooManyHeaders = errors.New("http11: too many header fields")

	// ErrRequestLineTooLarge indicates the request line exceeds
	// MaxRequestLineBytes.
	ErrRequestLineTooLarge = errors.New("http11: request line too large")

	// ErrHeadTooLarge indicates the request head exceeds MaxHeadBytes.
	ErrHeadTooLarge = errors.New("http11: request head too large")

	// ErrInvalidContentLength indicates a malformed Content-Length value.
	ErrInvalidContentLength = errors.New("http11: invalid Content-Length")

	// ErrAmbiguousFraming indicates both Content-Length and
	// Transfer-Encoding were present, or conflicting duplicate
	// Content-Length values. RFC 7230 §3.3.3 requires rejection to
	// prevent request smuggling.
	ErrAmbiguousFraming = errors.New("http11: ambiguous body framing (smuggling vector)")

	// ErrInvalidChunk indicates a chunked transfer encoding violation.
	ErrInvalidChunk = errors.New("http11: invalid chunked encoding")

	// ErrChunkTooLarge indicates a chunk exceeding MaxChunkSize.
	ErrChunkTooLarge = errors.New("http11: chunk too large")

	// ErrBodyTooLarge indicates a body exceeding the configured limit.
	ErrBodyTooLarge = errors.New("http11: request body too large")

	// ErrUnexpectedEOF indicates the peer closed mid-message.
	ErrUnexpectedEOF = errors.New("http11: unexpected EOF")
)

// protocolErrors are the violations answered with a 400-class response
// when protocol state still allows one.
var protocolErrors = []error{
	ErrInvalidRequestLine,
	ErrInvalidMethod,
	ErrUnsupportedProtocol,
	ErrInvalidHeader,
	ErrHeaderInjection,
	ErrTooManyHeaders,
	ErrRequestLineTooLarge,
	ErrHeadTooLarge,
	ErrInvalidContentLength,
	ErrAmbiguousFraming,
	ErrInvalidChunk,
	ErrChunkTooLarge,
}

// IsProtocolError reports whether err is a parse/protocol violation as
// opposed to an I/O failure or disconnect.
func IsProtocolError(err error) bool {
	for _, pe := range protocolErrors {
		if errors.Is(err, pe) {
			return true
		}
	}
	return false
}
