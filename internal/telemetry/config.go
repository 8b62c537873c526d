// Package telemetry wires OpenTelemetry into the ingestion service: run and task
// metrics, disclosure API call metrics, trigger endpoint metrics and spans, all
// exported over OTLP or scraped from a Prometheus endpoint.
package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultServiceName is the service.name resource attribute when none is configured
	DefaultServiceName = "impact-ingest"

	// ServiceNamespace groups the ingestion service with the other KPI services
	ServiceNamespace = "impactledger"

	// DefaultEndpoint is the OTLP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling samples 5% of root spans. A run span is a root span, so this
	// is the share of ingestion runs traced end to end.
	DefaultSampling = 0.05
)

// Metrics exporters
const (
	MetricsExporterOTLP       = "otlp"
	MetricsExporterPrometheus = "prometheus"
)

// Config is the telemetry section of the service configuration
type Config struct {
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"serviceName,omitempty"`
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Environment is recorded as deployment.environment, e.g. "prod"
	Environment string `yaml:"environment,omitempty"`

	// ResourceAttributes are added to every exported span and metric
	ResourceAttributes map[string]string `yaml:"resourceAttributes,omitempty"`

	// Endpoint is the OTLP collector as host:port
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls run, task and trigger spans
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of root spans kept, 0 means DefaultSampling
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls the ingestion counters and histograms
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp (default) or prometheus
	Exporter string `yaml:"exporter,omitempty"`
}

// tracingOn reports whether spans are exported
func (c *Config) tracingOn() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

// metricsOn reports whether metrics are exported
func (c *Config) metricsOn() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}

// resolved returns a copy of c with every default filled in. The nested
// sections are copied too so callers never see the defaults written back.
func (c *Config) resolved(version string) Config {
	out := *c
	if out.ServiceName == "" {
		out.ServiceName = DefaultServiceName
	}
	if out.ServiceVersion == "" {
		out.ServiceVersion = version
	}
	if out.ServiceVersion == "" {
		out.ServiceVersion = "unknown"
	}
	if out.Endpoint == "" {
		out.Endpoint = DefaultEndpoint
	}

	tracing := TracingConfig{}
	if c.Tracing != nil {
		tracing = *c.Tracing
	}
	if tracing.Sampling == 0 {
		tracing.Sampling = DefaultSampling
	}
	out.Tracing = &tracing

	metrics := MetricsConfig{}
	if c.Metrics != nil {
		metrics = *c.Metrics
	}
	if metrics.Exporter == "" {
		metrics.Exporter = MetricsExporterOTLP
	}
	out.Metrics = &metrics
	return out
}

// Validate checks the sections that are enabled; a disabled config is always valid
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Enabled && (c.Tracing.Sampling < 0 || c.Tracing.Sampling > 1) {
		errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %g", c.Tracing.Sampling))
	}
	if c.Metrics != nil && c.Metrics.Enabled {
		switch c.Metrics.Exporter {
		case "", MetricsExporterOTLP, MetricsExporterPrometheus:
		default:
			errs = append(errs, fmt.Errorf("metrics: exporter must be %s or %s, got %s",
				MetricsExporterOTLP, MetricsExporterPrometheus, c.Metrics.Exporter))
		}
	}
	for key := range c.ResourceAttributes {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, errors.New("resourceAttributes: keys must not be empty"))
			break
		}
	}
	return errors.Join(errs...)
}
