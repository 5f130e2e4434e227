package http11

import (
	"io"
	"strings"
)

// field is one header name/value pair. Insertion order is preserved for
// serialization; lookup is case-insensitive per RFC 7230.
type field struct {
	name  string
	value string
}

// Header is an append-ordered collection of HTTP header fields.
//
// Unlike a map it preserves insertion order and duplicate fields, which
// matters for serialization fidelity and for multi-valued headers. Linear
// scan lookup is cache-friendly and beats a map for the header counts real
// requests carry.
type Header struct {
	fields []field
}

// Add appends a header field. Names and values containing CR or LF are
// rejected to block response-splitting injection.
func (h *Header) Add(name, value string) error {
	if containsCTL(name) || containsCTL(value) {
		return ErrHeaderInjection
	}
	h.fields = append(h.fields, field{name: name, value: value})
	return nil
}

// Set replaces all fields with the given name (case-insensitive) by a
// single field, or appends if absent.
func (h *Header) Set(name, value string) error {
	if containsCTL(name) || containsCTL(value) {
		return ErrHeaderInjection
	}
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.name, name) {
			out = append(out, f)
		}
	}
	h.fields = append(out, field{name: name, value: value})
	return nil
}

// Get returns the first value for name (case-insensitive), or "" if absent.
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

// Has reports whether a field with the given name exists.
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}
	return false
}

// Values returns every value for name in insertion order.
func (h *Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			out = append(out, f.value)
		}
	}
	return out
}

// Del removes all fields with the given name.
func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// Reset clears the header for reuse, retaining capacity.
func (h *Header) Reset() {
	h.fields = h.fields[:0]
}

// VisitAll calls fn for each field in insertion order until fn returns
// false.
func (h *Header) VisitAll(fn func(name, value string) bool) {
	for _, f := range h.fields {
		if !fn(f.name, f.value) {
			return
		}
	}
}

// WriteTo serializes the fields in wire format ("name: value\r\n" per
// field, without the terminating blank line).
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, f := range h.fields {
		for _, part := range [][]byte{[]byte(f.name), colonSpace, []byte(f.value), crlf} {
			n, err := w.Write(part)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// appendWire appends the wire form of all fields to b.
func (h *Header) appendWire(b []byte) []byte {
	for _, f := range h.fields {
		b = append(b, f.name...)
		b = append(b, colonSpace...)
		b = append(b, f.value...)
		b = append(b, crlf...)
	}
	return b
}

// containsCTL reports whether s contains CR, LF, or NUL.
func containsCTL(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\r', '\n', 0:
			return true
		}
	}
	return false
}
