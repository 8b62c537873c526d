package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func TestNewHandler_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		level    slog.Level
		expected []string
	}{
		{name: "debug writes everything", level: slog.LevelDebug, expected: []string{"d", "i", "w", "e"}},
		{name: "info drops debug", level: slog.LevelInfo, expected: []string{"i", "w", "e"}},
		{name: "warn drops info", level: slog.LevelWarn, expected: []string{"w", "e"}},
		{name: "error only", level: slog.LevelError, expected: []string{"e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			handler, sync := NewHandler(WithLevel(tt.level), WithWriter(&buf))
			logger := slog.New(handler)

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")
			_ = sync()

			var got []string
			for _, rec := range decodeLines(t, &buf) {
				got = append(got, rec["msg"].(string))
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewHandler_Attributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler, _ := NewHandler(WithWriter(&buf))
	slog.New(handler).With("job", "recent").Info("run finished", "processed", 12)

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "recent", recs[0]["job"])
	assert.EqualValues(t, 12, recs[0]["processed"])
}

func TestTraceHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("b7ad6b7169203331")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var buf bytes.Buffer
	handler, _ := NewHandler(WithWriter(&buf))
	logger := slog.New(handler)

	logger.InfoContext(ctx, "with span")
	logger.Info("without span")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, traceID.String(), recs[0]["trace_id"])
	assert.Equal(t, spanID.String(), recs[0]["span_id"])
	assert.NotContains(t, recs[1], "trace_id")
}

func TestNewHandler_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler, _ := NewHandler(WithWriter(&buf), WithFormat(FormatText))
	slog.New(handler).Warn("quota exhausted")

	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "quota exhausted")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "warning", want: slog.LevelWarn},
		{input: " error ", want: slog.LevelError},
		{input: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntoContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler, _ := NewHandler(WithWriter(&buf))
	ctx := logr.NewContext(context.Background(), logr.FromSlogHandler(handler))

	ctx = IntoContext(ctx, "entity", "00126380")
	FromContext(ctx).Info("task started", "period", "2024-03")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "00126380", recs[0]["entity"])
	assert.Equal(t, "2024-03", recs[0]["period"])
}
