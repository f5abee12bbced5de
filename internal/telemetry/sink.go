// internal/telemetry/sink.go
package telemetry

import (
	"context"
	"log/slog"
	"maps"
	"time"
)

// Level is the severity of a telemetry record.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Record is one telemetry entry.
type Record struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Tags    map[string]any `json:"tags,omitempty"`
}

// Sink accepts telemetry records. Implementations must be safe for
// concurrent use and must not block callers on delivery failures.
type Sink interface {
	Log(ctx context.Context, level Level, msg string, tags map[string]any)
	Close() error
}

// Nop discards everything. It is used when telemetry is disabled.
type Nop struct{}

func (Nop) Log(context.Context, Level, string, map[string]any) {}
func (Nop) Close() error                                        { return nil }

// SlogSink forwards records to a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Log(ctx context.Context, level Level, msg string, tags map[string]any) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	args := make([]any, 0, 2*len(tags))
	for k, v := range tags {
		args = append(args, k, v)
	}
	l.Log(ctx, slogLevel(level), msg, args...)
}

func (SlogSink) Close() error { return nil }

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Multi fans every record out to each sink.
type Multi []Sink

func (m Multi) Log(ctx context.Context, level Level, msg string, tags map[string]any) {
	for _, s := range m {
		s.Log(ctx, level, msg, maps.Clone(tags))
	}
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
