package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/impactledger/impact-ingest/internal/versions"
)

// Telemetry owns the providers handed to the orchestrator, the disclosure client
// and the HTTP server. Disabled sections get no-op providers.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler

	// SDK providers to flush on shutdown; nil when disabled
	sdkTracer *sdktrace.TracerProvider
	sdkMeter  *sdkmetric.MeterProvider
}

// Option configures New
type Option func(*options)

type options struct {
	config *Config
}

// WithTelemetryConfig sets the telemetry section of the service configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// New builds the providers for the configured sections. The caller must call
// Shutdown before exit so the last run metrics are flushed.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	if o.config == nil || !o.config.Enabled {
		slog.Debug("Telemetry disabled")
		return t, nil
	}
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	cfg := o.config.resolved(versions.Version)
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if o.config.tracingOn() {
		if t.sdkTracer, err = newTracerProvider(ctx, cfg, res); err != nil {
			return nil, err
		}
		t.tracerProvider = t.sdkTracer
		if cfg.Insecure {
			slog.Warn("Spans are sent to the collector over unencrypted HTTP")
		}
		slog.Info("Tracing ingestion runs", "endpoint", cfg.Endpoint, "sampling_ratio", cfg.Tracing.Sampling)
	}

	if o.config.metricsOn() {
		var registry *prometheus.Registry
		if cfg.Metrics.Exporter == MetricsExporterPrometheus {
			registry = prometheus.NewRegistry()
			t.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
		}
		if t.sdkMeter, err = newMeterProvider(ctx, cfg, res, registry); err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		t.meterProvider = t.sdkMeter
		slog.Info("Recording ingestion metrics", "exporter", cfg.Metrics.Exporter, "endpoint", cfg.Endpoint)
	}

	slog.Info("Telemetry initialized",
		"service_name", cfg.ServiceName,
		"service_version", cfg.ServiceVersion,
		"environment", cfg.Environment)
	return t, nil
}

// TracerProvider returns the provider for run, task and trigger spans
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the provider for ingestion and HTTP metrics
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics are pushed or disabled
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metricsHandler
}

// Shutdown flushes pending spans and metrics
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.sdkTracer != nil {
		if err := t.sdkTracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if t.sdkMeter != nil {
		if err := t.sdkMeter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
