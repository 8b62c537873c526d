package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ingestotel "github.com/impactledger/impact-ingest/internal/otel"
)

// HTTPMetricsMeterName is the meter of the trigger endpoints
const HTTPMetricsMeterName = "github.com/impactledger/impact-ingest/http"

// triggerPrefix holds the routes that start ingestion runs
const triggerPrefix = "/v1/ingest/"

// Trigger outcomes, by response status
const (
	TriggerAccepted       = "accepted"
	TriggerAlreadyRunning = "already_running"
	TriggerRejected       = "rejected"
	TriggerClosed         = "closed"
	TriggerError          = "error"
)

// AttrTrigger is the outcome of a trigger request on its span
const AttrTrigger = attribute.Key("ingest.trigger")

// TriggerOutcome names the response of a trigger request
func TriggerOutcome(status int) string {
	switch status {
	case http.StatusAccepted:
		return TriggerAccepted
	case http.StatusConflict:
		return TriggerAlreadyRunning
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return TriggerRejected
	case http.StatusServiceUnavailable:
		return TriggerClosed
	default:
		return TriggerError
	}
}

type triggerKey struct{}

// trigger carries the run kind a handler resolved back out to the middlewares
type trigger struct {
	mu   sync.Mutex
	kind string
}

func (t *trigger) label() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind == "" {
		return "unknown"
	}
	return t.kind
}

// withTrigger returns r carrying a trigger label, reusing one an outer middleware set
func withTrigger(r *http.Request) (*http.Request, *trigger) {
	if t, ok := r.Context().Value(triggerKey{}).(*trigger); ok {
		return r, t
	}
	t := &trigger{}
	return r.WithContext(context.WithValue(r.Context(), triggerKey{}, t)), t
}

// LabelTrigger records the run kind a trigger request asked for. Outside the
// HTTP middlewares it does nothing.
func LabelTrigger(ctx context.Context, kind string) {
	if t, ok := ctx.Value(triggerKey{}).(*trigger); ok {
		t.mu.Lock()
		t.kind = kind
		t.mu.Unlock()
	}
}

// isTrigger reports whether method and route start a run
func isTrigger(method, route string) bool {
	return method == http.MethodPost && strings.HasPrefix(route, triggerPrefix)
}

// HTTPMetrics records request latency for every route and a run kind and
// outcome counter for the trigger routes
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	triggersTotal   metric.Int64Counter
}

// NewHTTPMetrics returns nil, which records nothing, when provider is nil
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(HTTPMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(
		"impact_ingest_http_request_duration_seconds",
		metric.WithDescription("Latency of API requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"impact_ingest_http_requests_total",
		metric.WithDescription("API requests, by route and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	triggersTotal, err := meter.Int64Counter(
		"impact_ingest_http_triggers_total",
		metric.WithDescription("Manual run triggers, by run kind and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
		triggersTotal:   triggersTotal,
	}, nil
}

// Middleware records the request once the handler returns
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r, trig := withTrigger(r)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// The request context may already be cancelled
		ctx := context.WithoutCancel(r.Context())
		route := routePattern(r)
		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.String("status_code", strconv.Itoa(ww.Status())),
		)
		m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		m.requestsTotal.Add(ctx, 1, attrs)

		if isTrigger(r.Method, route) {
			m.triggersTotal.Add(ctx, 1, metric.WithAttributes(
				ingestotel.AttrKind.String(trig.label()),
				ingestotel.AttrOutcome.String(TriggerOutcome(ww.Status())),
			))
		}
	})
}

// routePattern returns the chi pattern, e.g. "/v1/ingest/backfill/{months}", so
// entity codes and month counts never become label values
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unknown_route"
}

// MetricsMiddleware builds HTTPMetrics from provider and returns its middleware
func MetricsMiddleware(provider metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	metrics, err := NewHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}
	return metrics.Middleware, nil
}
