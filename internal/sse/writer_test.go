package sse

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriterFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	if err := sw.Event("meta", map[string]string{"threadId": "t1"}); err != nil {
		t.Fatalf("Event failed: %v", err)
	}
	if err := sw.Event("", map[string]string{"delta": "Hi"}); err != nil {
		t.Fatalf("Event failed: %v", err)
	}
	if err := sw.Event("end", struct{}{}); err != nil {
		t.Fatalf("Event failed: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	body := rec.Body.String()
	want := "event: meta\n" +
		`data: {"threadId":"t1"}` + "\n\n" +
		`data: {"delta":"Hi"}` + "\n\n" +
		"event: end\n" +
		"data: {}\n\n"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if !rec.Flushed {
		t.Error("expected the recorder to be flushed")
	}
}

type noFlushWriter struct {
	http.ResponseWriter
}

func TestWriterRequiresFlusher(t *testing.T) {
	if _, err := NewWriter(noFlushWriter{httptest.NewRecorder()}); err == nil {
		t.Fatal("expected error for non-flushing writer")
	}
}

type failingWriter struct {
	*httptest.ResponseRecorder
	fail bool
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.fail {
		return 0, errors.New("client gone")
	}
	return f.ResponseRecorder.Write(p)
}

func TestWriterClosesOnWriteFailure(t *testing.T) {
	fw := &failingWriter{ResponseRecorder: httptest.NewRecorder()}
	sw, err := NewWriter(fw)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	fw.fail = true
	if err := sw.Event("meta", map[string]string{}); err == nil {
		t.Fatal("expected write error")
	}
	if !sw.Closed() {
		t.Error("writer should be closed after a failed write")
	}
	if err := sw.Event("end", struct{}{}); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("writes after close should fail, got %v", err)
	}
}
