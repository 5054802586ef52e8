// Package sse frames server-sent events onto an HTTP response, one JSON
// payload per event, flushed as written.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer emits SSE frames. Once a write fails the writer is dead: the client
// is gone and producers should stop.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewWriter prepares the response for event streaming and commits the 200
// header. Callers set any additional headers (CORS) beforehand. Fails when
// the ResponseWriter cannot flush, since buffered SSE is useless.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Event writes one frame. An empty name produces a bare data frame. The
// payload is JSON-encoded.
func (sw *Writer) Event(name string, payload any) error {
	if sw.closed {
		return fmt.Errorf("event channel closed")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	if name != "" {
		if _, err := fmt.Fprintf(sw.w, "event: %s\n", name); err != nil {
			sw.closed = true
			return err
		}
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		sw.closed = true
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Closed reports whether a previous write failed.
func (sw *Writer) Closed() bool {
	return sw.closed
}
