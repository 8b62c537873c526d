// Package logging builds the process-wide structured logger.
//
// Records are written through a zap core and exposed as a log/slog handler via logr,
// so packages log with slog key/value pairs or pull a logr.Logger out of the context.
// Every record carries the active OpenTelemetry trace and span IDs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatJSON writes one JSON object per record
	FormatJSON = "json"

	// FormatText writes human readable console lines
	FormatText = "text"
)

// Option configures NewHandler
type Option func(*options)

type options struct {
	level  slog.Level
	format string
	writer io.Writer
}

// WithLevel sets the minimum level that is written
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithFormat selects FormatJSON or FormatText
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithWriter redirects output, which defaults to stderr
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// NewHandler returns a trace-aware slog handler backed by zap.
// The returned sync function flushes buffered output and should be deferred by the caller.
func NewHandler(opts ...Option) (slog.Handler, func() error) {
	o := &options{
		level:  slog.LevelInfo,
		format: FormatJSON,
		writer: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if o.format == FormatText {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	} else {
		encoder = zapcore.NewJSONEncoder(ec)
	}

	// The zap core accepts everything down to debug; the slog level gate lives in TraceHandler.
	core := zapcore.NewCore(encoder, zapcore.AddSync(o.writer), zapcore.Level(slog.LevelDebug))
	zl := zap.New(core)

	handler := &TraceHandler{
		Handler: logr.ToSlogHandler(zapr.NewLogger(zl)),
		level:   o.level,
	}
	return handler, zl.Sync
}

// TraceHandler wraps an slog.Handler to inject OpenTelemetry trace_id and span_id
// into every record and to drop records below its minimum level.
type TraceHandler struct {
	slog.Handler
	level slog.Level
}

// Enabled reports whether records at level are written
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

// Handle adds trace correlation attributes before delegating
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.level {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

// WithGroup implements slog.Handler
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}

// ParseLevel maps a level name to a slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// FromContext returns the logger stored in ctx, or one backed by the default slog handler
func FromContext(ctx context.Context) logr.Logger {
	if logger, err := logr.FromContext(ctx); err == nil {
		return logger
	}
	return logr.FromSlogHandler(slog.Default().Handler())
}

// IntoContext stores a logger enriched with keysAndValues in ctx
func IntoContext(ctx context.Context, keysAndValues ...any) context.Context {
	return logr.NewContext(ctx, FromContext(ctx).WithValues(keysAndValues...))
}
