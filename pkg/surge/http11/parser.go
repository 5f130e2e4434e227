package http11

import (
	"bufio"
	"io"
	"strings"
)

// parserState is the tagged state of the request-head state machine.
type parserState uint8

const (
	// stateRequestLine expects the request line (leading blank lines are
	// tolerated per RFC 7230 §3.5).
	stateRequestLine parserState = iota

	// stateHeaderField expects a header field line or the terminating
	// blank line.
	stateHeaderField

	// stateDone is terminal for one head; the parser resets on the next
	// ReadHead call.
	stateDone
)

// parserEvent classifies one consumed line.
type parserEvent uint8

const (
	// evLine is a non-empty line (request line or header field).
	evLine parserEvent = iota

	// evBlank is an empty line (the CRLF CRLF boundary).
	evBlank
)

// parserTransitions is the explicit transition table keyed on
// (state, event). Keeping transitions in data rather than control flow
// makes the machine auditable and exhaustively testable.
var parserTransitions = [2][2]parserState{
	stateRequestLine: {evLine: stateHeaderField, evBlank: stateRequestLine},
	stateHeaderField: {evLine: stateHeaderField, evBlank: stateDone},
}

// Parser reads HTTP/1.1 request heads from a buffered stream.
//
// Design:
// - Explicit state machine, one transition per consumed line
// - Bounded: request line and total head sizes are capped, header count
//   is capped
// - The line buffer is reused across requests on the same connection
//
// A Parser is owned by exactly one connection and is not safe for
// concurrent use.
type Parser struct {
	state    parserState
	consumed int
	lineBuf  []byte
}

// NewParser creates a parser with a reusable line buffer.
func NewParser() *Parser {
	return &Parser{lineBuf: make([]byte, 0, 512)}
}

// Consumed returns the number of bytes consumed by the current (or most
// recent) ReadHead call. A failed ReadHead with zero consumed bytes means
// the connection was idle, not mid-request; that is what separates an
// idle-timeout close from an answerable 408.
func (p *Parser) Consumed() int {
	return p.consumed
}

// ReadHead reads one request head (request line, headers, terminating
// blank line) from br and returns it with body framing derived.
//
// Returns io.EOF when the peer cleanly closed between requests, and
// ErrUnexpectedEOF when it closed mid-head.
func (p *Parser) ReadHead(br *bufio.Reader) (*RequestHead, error) {
	p.state = stateRequestLine
	p.consumed = 0

	head := &RequestHead{ContentLength: -1}

	for p.state != stateDone {
		line, err := p.readLine(br)
		if err != nil {
			if err == io.EOF && p.state != stateRequestLine {
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}

		ev := evLine
		if len(line) == 0 {
			ev = evBlank
		}

		switch {
		case p.state == stateRequestLine && ev == evLine:
			if err := parseRequestLine(head, line); err != nil {
				return nil, err
			}
		case p.state == stateHeaderField && ev == evLine:
			if head.Header.Len() >= MaxHeaderCount {
				return nil, ErrTooManyHeaders
			}
			if err := parseHeaderField(&head.Header, line); err != nil {
				return nil, err
			}
		}

		p.state = parserTransitions[p.state][ev]
	}

	if err := head.finalize(); err != nil {
		return nil, err
	}
	return head, nil
}

// readLine consumes one CRLF-terminated line, returning it without the
// terminator. Enforces per-line and whole-head size caps.
func (p *Parser) readLine(br *bufio.Reader) ([]byte, error) {
	p.lineBuf = p.lineBuf[:0]

	for {
		frag, err := br.ReadSlice('\n')
		p.lineBuf = append(p.lineBuf, frag...)
		p.consumed += len(frag)

		if p.consumed > MaxHeadBytes {
			return nil, ErrHeadTooLarge
		}
		if p.state == stateRequestLine && len(p.lineBuf) > MaxRequestLineBytes {
			return nil, ErrRequestLineTooLarge
		}

		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			if len(p.lineBuf) == 0 {
				return nil, io.EOF
			}
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}

	line := p.lineBuf
	// Strict CRLF line endings; a bare LF is a protocol violation.
	if len(line) < 2 || line[len(line)-2] != '\r' {
		if p.state == stateRequestLine {
			return nil, ErrInvalidRequestLine
		}
		return nil, ErrInvalidHeader
	}
	return line[:len(line)-2], nil
}

// parseRequestLine parses "METHOD SP request-target SP HTTP-version".
func parseRequestLine(head *RequestHead, line []byte) error {
	s := string(line)

	sp1 := strings.IndexByte(s, ' ')
	if sp1 <= 0 {
		return ErrInvalidRequestLine
	}
	sp2 := strings.IndexByte(s[sp1+1:], ' ')
	if sp2 < 0 {
		return ErrInvalidRequestLine
	}
	sp2 += sp1 + 1

	method := s[:sp1]
	target := s[sp1+1 : sp2]
	proto := s[sp2+1:]

	if !validMethod(method) {
		return ErrInvalidMethod
	}
	if len(target) == 0 || strings.IndexByte(target, ' ') >= 0 {
		return ErrInvalidRequestLine
	}

	switch proto {
	case ProtoHTTP11:
		head.ProtoMajor, head.ProtoMinor = 1, 1
	case ProtoHTTP10:
		head.ProtoMajor, head.ProtoMinor = 1, 0
	default:
		return ErrUnsupportedProtocol
	}

	head.Method = method
	head.Target = target
	head.Proto = proto
	return nil
}

// parseHeaderField parses one "name: value" line into h.
func parseHeaderField(h *Header, line []byte) error {
	s := string(line)

	// Obsolete line folding (leading whitespace) is rejected per
	// RFC 7230 §3.2.4.
	if s[0] == ' ' || s[0] == '\t' {
		return ErrInvalidHeader
	}

	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return ErrInvalidHeader
	}

	name := s[:colon]
	for i := 0; i < len(name); i++ {
		// Whitespace before the colon is a smuggling vector.
		if !isTokenChar(name[i]) {
			return ErrInvalidHeader
		}
	}

	value := strings.Trim(s[colon+1:], " \t")
	return h.Add(name, value)
}
