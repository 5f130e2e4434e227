package http11

import (
	"strings"
	"testing"
)

func TestAppendStatusLine(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "HTTP/1.1 200 OK\r\n"},
		{404, "HTTP/1.1 404 Not Found\r\n"},
		{503, "HTTP/1.1 503 Service Unavailable\r\n"},
		{599, "HTTP/1.1 599 \r\n"}, // Unknown code, empty reason
	}
	for _, tt := range tests {
		if got := string(AppendStatusLine(nil, tt.code)); got != tt.want {
			t.Errorf("AppendStatusLine(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestAppendResponseHead(t *testing.T) {
	var h Header
	h.Add("content-length", "2")

	got := string(AppendResponseHead(nil, 200, &h))
	want := "HTTP/1.1 200 OK\r\ncontent-length: 2\r\n\r\n"
	if got != want {
		t.Errorf("AppendResponseHead() = %q, want %q", got, want)
	}
}

func TestErrorResponseSelfFramed(t *testing.T) {
	for _, code := range []int{400, 408, 500, 503} {
		resp := string(ErrorResponse(code))

		if !strings.Contains(resp, "connection: close\r\n") {
			t.Errorf("ErrorResponse(%d) missing connection: close", code)
		}
		if !strings.Contains(resp, "content-length: ") {
			t.Errorf("ErrorResponse(%d) missing content-length", code)
		}
		// Body is the reason phrase.
		if !strings.HasSuffix(resp, StatusText(code)) {
			t.Errorf("ErrorResponse(%d) body = %q, want suffix %q", code, resp, StatusText(code))
		}
	}
}

func TestContinueResponse(t *testing.T) {
	if got := string(ContinueResponse()); got != "HTTP/1.1 100 Continue\r\n\r\n" {
		t.Errorf("ContinueResponse() = %q", got)
	}
}
