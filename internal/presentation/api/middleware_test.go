package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// The event stream clears the server write deadline through
// http.ResponseController, which only works when every middleware wrapper
// in between exposes the underlying writer via Unwrap.
func TestResponseWriterClearsWriteDeadline(t *testing.T) {
	result := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := newResponseWriter(w)
		result <- http.NewResponseController(wrapped).SetWriteDeadline(time.Time{})
		wrapped.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("SetWriteDeadline through middleware wrapper failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
}

func TestResponseWriterFlushPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := newResponseWriter(w)
		if _, err := wrapped.Write([]byte("partial")); err != nil {
			t.Errorf("write failed: %v", err)
		}
		wrapped.Flush()
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(body) != "partial" {
		t.Fatalf("body = %q", body)
	}
}

func TestResponseWriterRecordsStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := newResponseWriter(rec)

	wrapped.WriteHeader(http.StatusTeapot)
	_, _ = wrapped.Write([]byte("short and stout"))

	if wrapped.statusCode != http.StatusTeapot {
		t.Fatalf("statusCode = %d", wrapped.statusCode)
	}
	if wrapped.bytes != len("short and stout") {
		t.Fatalf("bytes = %d", wrapped.bytes)
	}
}
