package http11

import (
	"bufio"
	"io"
	"strconv"
)

// ChunkedReader decodes chunked transfer encoding (RFC 7230 §4.1).
//
// Wire format:
//
//	chunk        = chunk-size [ chunk-ext ] CRLF chunk-data CRLF
//	last-chunk   = 1*("0") [ chunk-ext ] CRLF
//	chunked-body = *chunk last-chunk trailer CRLF
//
// Design:
// - Streams chunk data without buffering whole chunks
// - Chunk extensions are ignored (never interpreted)
// - Trailer fields are consumed and discarded
// - Per-chunk and total-body limits guard against hostile peers
// - io.EOF after the last chunk and trailer are fully consumed
type ChunkedReader struct {
	br          *bufio.Reader
	remaining   uint64 // bytes left in the current chunk
	total       uint64 // body bytes delivered so far
	maxBody     uint64 // 0 = unlimited
	err         error  // sticky
	sawLast     bool
	needDataEnd bool // CRLF after chunk data still unread
}

// NewChunkedReader wraps r for chunked decoding. maxBody caps the total
// decoded size (0 for unlimited).
func NewChunkedReader(r io.Reader, maxBody uint64) *ChunkedReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ChunkedReader{br: br, maxBody: maxBody}
}

// Read implements io.Reader, returning io.EOF once the terminal 0-chunk
// and trailer have been consumed.
func (cr *ChunkedReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if cr.sawLast {
		return 0, io.EOF
	}

	if cr.remaining == 0 {
		if err := cr.advance(); err != nil {
			cr.err = err
			return 0, err
		}
		if cr.sawLast {
			return 0, io.EOF
		}
	}

	if uint64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.br.Read(p)
	cr.remaining -= uint64(n)
	cr.total += uint64(n)

	if cr.maxBody > 0 && cr.total > cr.maxBody {
		cr.err = ErrBodyTooLarge
		return n, cr.err
	}
	if err != nil {
		if err == io.EOF {
			err = ErrUnexpectedEOF
		}
		cr.err = err
	} else if cr.remaining == 0 {
		cr.needDataEnd = true
	}
	return n, cr.err
}

// advance consumes the CRLF trailing the previous chunk (if pending) and
// the next chunk-size line. On the 0-chunk it also consumes the trailer.
func (cr *ChunkedReader) advance() error {
	if cr.needDataEnd {
		cr.needDataEnd = false
		if err := cr.expectCRLF(); err != nil {
			return err
		}
	}

	line, err := cr.readLine()
	if err != nil {
		return err
	}

	// Strip chunk extensions: everything after ';' is ignored.
	for i := 0; i < len(line); i++ {
		if line[i] == ';' {
			line = line[:i]
			break
		}
	}
	if len(line) == 0 {
		return ErrInvalidChunk
	}

	size, err := strconv.ParseUint(string(line), 16, 64)
	if err != nil {
		return ErrInvalidChunk
	}
	if size > MaxChunkSize {
		return ErrChunkTooLarge
	}

	if size == 0 {
		cr.sawLast = true
		return cr.discardTrailer()
	}
	cr.remaining = size
	return nil
}

// discardTrailer consumes trailer fields up to and including the final
// blank line. Trailer contents are not surfaced.
func (cr *ChunkedReader) discardTrailer() error {
	for {
		line, err := cr.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
	}
}

// expectCRLF consumes exactly "\r\n".
func (cr *ChunkedReader) expectCRLF() error {
	b1, err := cr.br.ReadByte()
	if err != nil {
		return ErrUnexpectedEOF
	}
	b2, err := cr.br.ReadByte()
	if err != nil {
		return ErrUnexpectedEOF
	}
	if b1 != '\r' || b2 != '\n' {
		return ErrInvalidChunk
	}
	return nil
}

// readLine reads one CRLF-terminated line (without the terminator),
// bounded to keep a hostile peer from streaming an endless chunk-size line.
func (cr *ChunkedReader) readLine() ([]byte, error) {
	line, err := cr.br.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, ErrInvalidChunk
		}
		return nil, ErrUnexpectedEOF
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, ErrInvalidChunk
	}
	return line[:len(line)-2], nil
}

// AppendChunk appends p to b framed as one chunk. Zero-length chunks are
// suppressed: an empty chunk would read as the body terminator.
func AppendChunk(b, p []byte) []byte {
	if len(p) == 0 {
		return b
	}
	b = strconv.AppendUint(b, uint64(len(p)), 16)
	b = append(b, crlf...)
	b = append(b, p...)
	b = append(b, crlf...)
	return b
}

// AppendLastChunk appends the terminal 0-chunk to b. No trailer fields
// are written.
func AppendLastChunk(b []byte) []byte {
	return append(b, "0\r\n\r\n"...)
}
