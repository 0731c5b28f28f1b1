package flow

import (
	"strings"
	"sync"
)

// StreamSink receives ordered, incremental text fragments of assistant
// output during a turn. Each fragment carries only new text; the consumer
// concatenates. Implementations must not block the producing turn: write
// failures (for example a disconnected client) should be swallowed so the
// turn can finish and commit.
type StreamSink interface {
	WriteFragment(text string)
}

// SinkFunc adapts a function to the StreamSink interface.
type SinkFunc func(string)

// WriteFragment calls f with the fragment.
func (f SinkFunc) WriteFragment(text string) { f(text) }

// NopSink discards all fragments.
type NopSink struct{}

// WriteFragment discards the fragment.
func (NopSink) WriteFragment(string) {}

// BufferSink collects fragments for tests and non-streaming callers.
type BufferSink struct {
	mu        sync.Mutex
	fragments []string
}

// WriteFragment appends the fragment to the buffer.
func (b *BufferSink) WriteFragment(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = append(b.fragments, text)
}

// Fragments returns a copy of the collected fragments in arrival order.
func (b *BufferSink) Fragments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.fragments...)
}

// String returns the concatenated fragment text.
func (b *BufferSink) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.fragments, "")
}
