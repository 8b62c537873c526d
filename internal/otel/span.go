// Package otel holds the span helpers and attribute keys shared by ingestion code.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on ingestion spans
const (
	AttrRunID   = attribute.Key("ingest.run_id")
	AttrKind    = attribute.Key("ingest.kind")
	AttrJob     = attribute.Key("ingest.job")
	AttrPhase   = attribute.Key("ingest.phase")
	AttrEntity  = attribute.Key("ingest.entity")
	AttrPeriod  = attribute.Key("ingest.period")
	AttrOutcome = attribute.Key("ingest.outcome")
)

// StartSpan starts a span on tracer, or continues the span in ctx when tracer is nil.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err as a span event and marks the span failed.
// The status text stays generic; response bodies and URLs only go to the event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// RecordEvent records err as a span event without failing the span.
func RecordEvent(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
	}
}
