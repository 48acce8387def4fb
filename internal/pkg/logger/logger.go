package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// SlogLogger adapts log/slog to the field-map Logger port.
type SlogLogger struct {
	base *slog.Logger
}

// Options selects level and output format.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a SlogLogger writing to opts.Output.
func New(opts Options) *SlogLogger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}
	return &SlogLogger{base: slog.New(handler)}
}

// FromSlog wraps an existing slog logger.
func FromSlog(base *slog.Logger) *SlogLogger {
	return &SlogLogger{base: base}
}

// With returns a child logger carrying the given component name.
func (l *SlogLogger) With(component string) *SlogLogger {
	return &SlogLogger{base: l.base.With("component", component)}
}

func (l *SlogLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(slog.LevelDebug, msg, nil, fields)
}

func (l *SlogLogger) Info(msg string, fields map[string]interface{}) {
	l.log(slog.LevelInfo, msg, nil, fields)
}

func (l *SlogLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(slog.LevelWarn, msg, nil, fields)
}

func (l *SlogLogger) Error(msg string, err error, fields map[string]interface{}) {
	l.log(slog.LevelError, msg, err, fields)
}

func (l *SlogLogger) log(level slog.Level, msg string, err error, fields map[string]interface{}) {
	ctx := context.Background()
	if !l.base.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	l.base.LogAttrs(ctx, level, msg, attrs...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop discards everything. Useful in tests.
type Nop struct{}

func (Nop) Debug(string, map[string]interface{})        {}
func (Nop) Info(string, map[string]interface{})         {}
func (Nop) Warn(string, map[string]interface{})         {}
func (Nop) Error(string, error, map[string]interface{}) {}
