package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// IngestMetricsMeterName is the name used for the ingestion run meter
	IngestMetricsMeterName = "github.com/impactledger/impact-ingest/ingest"

	// APIMetricsMeterName is the name used for the disclosure API client meter
	APIMetricsMeterName = "github.com/impactledger/impact-ingest/disclosure"
)

// IngestMetrics holds the OpenTelemetry instruments for ingestion runs
type IngestMetrics struct {
	tasksTotal  metric.Int64Counter
	runDuration metric.Float64Histogram
	quotaAborts metric.Int64Counter
}

// NewIngestMetrics creates a new IngestMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewIngestMetrics(provider metric.MeterProvider) (*IngestMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(IngestMetricsMeterName)

	tasksTotal, err := meter.Int64Counter(
		"impact_ingest_tasks_total",
		metric.WithDescription("Ingestion tasks finished, by outcome"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"impact_ingest_run_duration_seconds",
		metric.WithDescription("Duration of ingestion runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200),
	)
	if err != nil {
		return nil, err
	}

	quotaAborts, err := meter.Int64Counter(
		"impact_ingest_quota_aborts_total",
		metric.WithDescription("Runs aborted because the upstream quota was exhausted"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &IngestMetrics{
		tasksTotal:  tasksTotal,
		runDuration: runDuration,
		quotaAborts: quotaAborts,
	}, nil
}

// RecordTask counts one finished task
func (m *IngestMetrics) RecordTask(ctx context.Context, outcome string) {
	if m == nil || m.tasksTotal == nil {
		return
	}
	m.tasksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRun records the duration of a finished run and counts quota aborts
func (m *IngestMetrics) RecordRun(ctx context.Context, kind, phase string, duration time.Duration, quotaAborted bool) {
	if m == nil || m.runDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("phase", phase),
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if quotaAborted {
		m.quotaAborts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// APIMetrics holds the OpenTelemetry instruments for outbound disclosure API calls
type APIMetrics struct {
	callsTotal metric.Int64Counter
	retries    metric.Int64Counter
}

// NewAPIMetrics creates a new APIMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewAPIMetrics(provider metric.MeterProvider) (*APIMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(APIMetricsMeterName)

	callsTotal, err := meter.Int64Counter(
		"impact_ingest_api_calls_total",
		metric.WithDescription("Disclosure API calls, by endpoint and result class"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"impact_ingest_api_retries_total",
		metric.WithDescription("Disclosure API attempts retried after a transient fault"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &APIMetrics{
		callsTotal: callsTotal,
		retries:    retries,
	}, nil
}

// RecordCall counts one logical call after retries settled
func (m *APIMetrics) RecordCall(ctx context.Context, endpoint, result string) {
	if m == nil || m.callsTotal == nil {
		return
	}
	m.callsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", result),
	))
}

// RecordRetry counts one retried attempt
func (m *APIMetrics) RecordRetry(ctx context.Context, endpoint string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}
