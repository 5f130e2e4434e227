package http11

import (
	"strconv"
)

// statusText covers the codes the engine and typical applications emit.
// Unknown codes serialize with an empty reason phrase, which clients
// tolerate.
var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}

// AppendStatusLine appends "HTTP/1.1 <code> <reason>\r\n" to b.
func AppendStatusLine(b []byte, code int) []byte {
	b = append(b, ProtoHTTP11...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, statusText[code]...)
	b = append(b, crlf...)
	return b
}

// AppendResponseHead appends a complete response head (status line,
// headers, terminating blank line) to b.
func AppendResponseHead(b []byte, code int, h *Header) []byte {
	b = AppendStatusLine(b, code)
	b = h.appendWire(b)
	b = append(b, crlf...)
	return b
}

// continueResponse is the interim response for Expect: 100-continue.
var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// ContinueResponse returns the canned 100 Continue interim response.
func ContinueResponse() []byte {
	return continueResponse
}

// ErrorResponse builds a complete, self-framed error response for the
// given status code. The body is the reason phrase; Connection: close is
// always advertised because every engine-generated error is fatal to the
// connection.
func ErrorResponse(code int) []byte {
	body := statusText[code]
	b := AppendStatusLine(nil, code)
	b = append(b, HeaderContentType...)
	b = append(b, colonSpace...)
	b = append(b, "text/plain; charset=utf-8"...)
	b = append(b, crlf...)
	b = append(b, HeaderContentLength...)
	b = append(b, colonSpace...)
	b = strconv.AppendInt(b, int64(len(body)), 10)
	b = append(b, crlf...)
	b = append(b, HeaderConnection...)
	b = append(b, colonSpace...)
	b = append(b, ValueClose...)
	b = append(b, crlf...)
	b = append(b, crlf...)
	b = append(b, body...)
	return b
}
