package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("ingest-test")
}

func TestStartSpan(t *testing.T) {
	t.Parallel()

	t.Run("nil tracer continues the context span", func(t *testing.T) {
		t.Parallel()

		ctx, span := StartSpan(context.Background(), nil, "ingest.task")
		require.NotNil(t, ctx)
		assert.False(t, span.SpanContext().IsValid())
		assert.NotPanics(t, func() { span.End() })
	})

	t.Run("records name and attributes", func(t *testing.T) {
		t.Parallel()

		exporter, tracer := newRecorder(t)
		_, span := StartSpan(context.Background(), tracer, "ingest.task",
			trace.WithAttributes(AttrEntity.String("00126380"), AttrPeriod.String("2024-03")))
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "ingest.task", spans[0].Name)

		got := map[string]string{}
		for _, attr := range spans[0].Attributes {
			got[string(attr.Key)] = attr.Value.AsString()
		}
		assert.Equal(t, "00126380", got["ingest.entity"])
		assert.Equal(t, "2024-03", got["ingest.period"])
	})
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		record     func(trace.Span, error)
		wantCode   codes.Code
		wantEvents int
	}{
		{name: "nil error leaves span unset", record: RecordError, wantCode: codes.Unset},
		{name: "error fails span", err: errors.New("status 013"), record: RecordError, wantCode: codes.Error, wantEvents: 1},
		{name: "event keeps span unset", err: errors.New("no data"), record: RecordEvent, wantCode: codes.Unset, wantEvents: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exporter, tracer := newRecorder(t)
			_, span := tracer.Start(context.Background(), "ingest.run")
			tt.record(span, tt.err)
			span.End()

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.wantCode, spans[0].Status.Code)
			assert.Len(t, spans[0].Events, tt.wantEvents)
			if tt.wantCode == codes.Error {
				assert.Equal(t, "operation failed", spans[0].Status.Description)
			}
		})
	}

	assert.NotPanics(t, func() { RecordError(nil, errors.New("boom")) })
	assert.NotPanics(t, func() { RecordEvent(nil, errors.New("boom")) })
}
