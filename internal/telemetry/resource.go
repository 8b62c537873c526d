package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/impactledger/impact-ingest/internal/versions"
)

// Resource attribute keys describing the ingestion deployment
const (
	AttrPipeline = attribute.Key("ingest.pipeline")
	AttrCommit   = attribute.Key("ingest.build.commit")
)

// Pipeline names what this service ingests
const Pipeline = "donation-disclosure"

// ingestAttributes lists the resource attributes of cfg, which must be resolved
func ingestAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceNamespace(ServiceNamespace),
		AttrPipeline.String(Pipeline),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if versions.Commit != "" {
		attrs = append(attrs, AttrCommit.String(versions.Commit))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// newResource is shared by the tracer and meter providers so spans and metrics
// of one process carry the same identity
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	// resource.New avoids schema URL conflicts with resource.Default()
	res, err := resource.New(ctx,
		resource.WithAttributes(ingestAttributes(cfg)...),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
