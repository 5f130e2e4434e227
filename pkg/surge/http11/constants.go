package http11

// Protocol limits. Bounded buffers keep a malformed or hostile client from
// forcing unbounded memory growth while its request head is parsed.
const (
	// MaxRequestLineBytes caps the request line (method + target + version).
	MaxRequestLineBytes = 8 * 1024

	// MaxHeadBytes caps the total size of request line plus headers.
	MaxHeadBytes = 16 * 1024

	// MaxHeaderCount caps the number of header fields per request.
	MaxHeaderCount = 64

	// MaxChunkSize caps a single chunk in chunked transfer encoding.
	MaxChunkSize = 16 * 1024 * 1024
)

// Wire fragments.
var (
	crlf       = []byte("\r\n")
	colonSpace = []byte(": ")
)

// Canonical protocol strings.
const (
	ProtoHTTP11 = "HTTP/1.1"
	ProtoHTTP10 = "HTTP/1.0"
)

// Header names and values the engine inspects or emits. Lowercase on the
// wire; lookup is case-insensitive regardless.
const (
	HeaderConnection       = "connection"
	HeaderContentLength    = "content-length"
	HeaderTransferEncoding = "transfer-encoding"
	HeaderExpect           = "expect"
	HeaderDate             = "date"
	HeaderServer           = "server"
	HeaderContentType      = "content-type"

	ValueClose     = "close"
	ValueKeepAlive = "keep-alive"
	ValueChunked   = "chunked"
	ValueContinue  = "100-continue"
)
