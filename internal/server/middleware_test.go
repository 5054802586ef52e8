package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/assist", nil))

	if seen == "" {
		t.Fatal("handler saw no request ID")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("X-Request-ID header = %q, context value = %q", got, seen)
	}
}

func TestLoggingMiddlewareCapturesStatusAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "thread_id", "t1")
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/assist", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["status"] != float64(http.StatusAccepted) {
		t.Errorf("logged status = %v, want 202", entry["status"])
	}
	if entry["thread_id"] != "t1" {
		t.Errorf("logged thread_id = %v", entry["thread_id"])
	}
	if entry["path"] != "/assist" {
		t.Errorf("logged path = %v", entry["path"])
	}
}

func TestLoggingMiddlewarePreservesFlusher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var flushable bool
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/assist", nil))
	if !flushable {
		t.Error("wrapped writer lost http.Flusher")
	}
}
