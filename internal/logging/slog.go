package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

// NewForLevel builds a JSON slog logger writing to stdout at the given
// level. Recognized levels: NONE, ERROR, WARN, INFO, DEBUG (case
// insensitive). NONE discards all output; unknown values behave as INFO.
func NewForLevel(level string) *SlogLogger {
	var out io.Writer = os.Stdout
	lvl := slog.LevelInfo

	switch strings.ToUpper(level) {
	case "NONE":
		out = io.Discard
	case "ERROR":
		lvl = slog.LevelError
	case "WARN":
		lvl = slog.LevelWarn
	case "DEBUG":
		lvl = slog.LevelDebug
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	return NewSlogLogger(slog.New(h))
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, args...)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, args...)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, args...)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, args...)
}

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...)}
}
