package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// sseWriter relays stream fragments as server-sent data lines. Each fragment
// is written as `data: <json-encoded string>` followed by a blank line and
// flushed immediately. Headers are sent lazily on the first fragment so
// pre-stream failures can still produce a normal JSON error response. Write
// failures (client gone) are swallowed so the producing turn can finish.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	wrote  bool
	failed bool
}

// newSSEWriter wraps a ResponseWriter, requiring flush support.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteFragment implements flow.StreamSink.
func (s *sseWriter) WriteFragment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	data, err := json.Marshal(text)
	if err != nil {
		slog.Error("sseWriter.WriteFragment: failed to encode fragment", "error", err)
		return
	}
	if !s.wrote {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.wrote = true
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		slog.Warn("sseWriter.WriteFragment: client write failed, dropping further fragments", "error", err)
		s.failed = true
		return
	}
	s.flusher.Flush()
}

// WroteAny reports whether any fragment reached the wire. When false the
// handler may still send a conventional JSON error response.
func (s *sseWriter) WroteAny() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote
}

// WriteError relays a turn failure as a final data line on an already
// started stream.
func (s *sseWriter) WriteError(message string) {
	s.WriteFragment("\n\n[error] " + message)
}
