package pipeline

import (
	"log/slog"
	"strings"
	"sync"
)

// Sink receives human-readable progress text from the pipeline. Writes are
// fire-and-forget and must never block processing.
type Sink interface {
	Write(s string)
}

// NopSink discards progress output.
type NopSink struct{}

func (NopSink) Write(string) {}

// LogSink forwards progress lines to a slog logger, skipping bare fragments
// such as streamed deltas.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Write(text string) {
	line := strings.TrimSpace(text)
	if line == "" || !strings.HasSuffix(text, "\n") {
		return
	}
	s.Log.Info("progress", "line", line)
}

// BufferSink accumulates progress output in memory; used by the HTTP surface
// to return a run transcript.
type BufferSink struct {
	mu sync.Mutex
	sb strings.Builder
}

func (s *BufferSink) Write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sb.WriteString(text)
}

func (s *BufferSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sb.String()
}
