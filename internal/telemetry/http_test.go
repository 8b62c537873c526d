package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	ingestotel "github.com/impactledger/impact-ingest/internal/otel"
)

func newTestTracerProvider(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

// triggerHandler labels the request with kind and answers with code
func triggerHandler(kind string, code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if kind != "" {
			LabelTrigger(r.Context(), kind)
		}
		w.WriteHeader(code)
	})
}

func TestTriggerOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   string
	}{
		{http.StatusAccepted, TriggerAccepted},
		{http.StatusConflict, TriggerAlreadyRunning},
		{http.StatusBadRequest, TriggerRejected},
		{http.StatusRequestEntityTooLarge, TriggerRejected},
		{http.StatusServiceUnavailable, TriggerClosed},
		{http.StatusInternalServerError, TriggerError},
		{http.StatusOK, TriggerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TriggerOutcome(tt.status))
		})
	}
}

func TestLabelTrigger_OutsideMiddlewareIsNoop(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { LabelTrigger(context.Background(), "recent") })
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	t.Parallel()

	t.Run("nil metrics pass through", func(t *testing.T) {
		t.Parallel()

		var metrics *HTTPMetrics
		rr := httptest.NewRecorder()
		metrics.Middleware(statusHandler(http.StatusTeapot)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	})

	t.Run("records route pattern rather than raw path", func(t *testing.T) {
		t.Parallel()

		reader, mp := newManualProvider(t)
		metrics, err := NewHTTPMetrics(mp)
		require.NoError(t, err)

		r := chi.NewRouter()
		r.Use(metrics.Middleware)
		r.Method(http.MethodPost, "/v1/ingest/backfill/{months}", statusHandler(http.StatusAccepted))

		for _, months := range []string{"6", "12", "24"} {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ingest/backfill/"+months, nil))
			require.Equal(t, http.StatusAccepted, rr.Code)
		}

		routes := sumByAttribute(t, collectMetric(t, reader, HTTPMetricsMeterName, "impact_ingest_http_requests_total"), "route")
		assert.Equal(t, map[string]int64{"/v1/ingest/backfill/{months}": 3}, routes)
	})
}

func TestHTTPMetrics_Triggers(t *testing.T) {
	t.Parallel()

	reader, mp := newManualProvider(t)
	metrics, err := NewHTTPMetrics(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Method(http.MethodPost, "/v1/ingest/runs", triggerHandler("recent", http.StatusAccepted))
	r.Method(http.MethodPost, "/v1/ingest/backfill/{months}", triggerHandler("backfill", http.StatusConflict))
	r.Method(http.MethodPost, "/v1/ingest/entities/{code}", triggerHandler("", http.StatusBadRequest))
	r.Method(http.MethodGet, "/v1/ingest/status", statusHandler(http.StatusOK))

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/ingest/runs"},
		{http.MethodPost, "/v1/ingest/runs"},
		{http.MethodPost, "/v1/ingest/backfill/12"},
		{http.MethodPost, "/v1/ingest/entities/00126380"},
		{http.MethodGet, "/v1/ingest/status"},
	}
	for _, req := range requests {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(req.method, req.path, nil))
	}

	m := collectMetric(t, reader, HTTPMetricsMeterName, "impact_ingest_http_triggers_total")
	assert.Equal(t, map[string]int64{"recent": 2, "backfill": 1, "unknown": 1},
		sumByAttribute(t, m, string(ingestotel.AttrKind)), "status reads are not triggers")
	assert.Equal(t, map[string]int64{TriggerAccepted: 2, TriggerAlreadyRunning: 1, TriggerRejected: 1},
		sumByAttribute(t, m, string(ingestotel.AttrOutcome)))
}

func TestMetricsMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	mw, err := MetricsMiddleware(nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	mw(statusHandler(http.StatusCreated)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestRoutePattern(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown_route", routePattern(httptest.NewRequest(http.MethodGet, "/a/b", nil)))

	var seen string
	r := chi.NewRouter()
	r.Get("/v1/ingest/entities/{code}", func(_ http.ResponseWriter, req *http.Request) {
		seen = routePattern(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ingest/entities/00126380", nil))
	assert.Equal(t, "/v1/ingest/entities/{code}", seen)
}

func TestTracingMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	TracingMiddleware(nil)(statusHandler(http.StatusCreated)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func spanAttributes(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.AsInterface()
	}
	return out
}

func TestTracingMiddleware_TriggerSpans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		statusCode  int
		wantStatus  codes.Code
		wantTrigger string
	}{
		{name: "accepted trigger marks span ok", statusCode: http.StatusAccepted, wantStatus: codes.Ok, wantTrigger: TriggerAccepted},
		{name: "run in progress leaves span unset", statusCode: http.StatusConflict, wantStatus: codes.Unset, wantTrigger: TriggerAlreadyRunning},
		{name: "server error marks span failed", statusCode: http.StatusInternalServerError, wantStatus: codes.Error, wantTrigger: TriggerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exporter, tp := newTestTracerProvider(t)
			r := chi.NewRouter()
			r.Use(TracingMiddleware(tp))
			r.Method(http.MethodPost, "/v1/ingest/backfill/{months}", triggerHandler("backfill", tt.statusCode))

			req := httptest.NewRequest(http.MethodPost, "/v1/ingest/backfill/12", nil)
			req.Header.Set("User-Agent", strings.Repeat("u", MaxUserAgentLength+10))
			r.ServeHTTP(httptest.NewRecorder(), req)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, "POST /v1/ingest/backfill/{months}", span.Name)
			assert.Equal(t, tt.wantStatus, span.Status.Code)

			attrs := spanAttributes(span.Attributes)
			assert.Equal(t, "/v1/ingest/backfill/{months}", attrs[string(semconv.HTTPRouteKey)])
			assert.Equal(t, int64(tt.statusCode), attrs[string(semconv.HTTPResponseStatusCodeKey)])
			assert.Len(t, attrs[string(semconv.UserAgentOriginalKey)], MaxUserAgentLength)
			assert.Equal(t, "backfill", attrs[string(ingestotel.AttrKind)])
			assert.Equal(t, tt.wantTrigger, attrs[string(AttrTrigger)])
		})
	}
}

func TestTracingMiddleware_StatusReadHasNoTriggerAttributes(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)
	r := chi.NewRouter()
	r.Use(TracingMiddleware(tp))
	r.Method(http.MethodGet, "/v1/ingest/status", statusHandler(http.StatusOK))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ingest/status", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	attrs := spanAttributes(spans[0].Attributes)
	assert.NotContains(t, attrs, string(AttrTrigger))
	assert.NotContains(t, attrs, string(ingestotel.AttrKind))
}

func TestTracingMiddleware_SkipsHealthAndScrapeEndpoints(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/health", "/readiness", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			exporter, tp := newTestTracerProvider(t)
			rr := httptest.NewRecorder()
			TracingMiddleware(tp)(statusHandler(http.StatusOK)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Empty(t, exporter.GetSpans())
		})
	}
}

func TestTracingMiddleware_ExtractsParentContext(t *testing.T) {
	t.Parallel()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter, tp := newTestTracerProvider(t)
	traceID := "0af7651916cd43dd8448eb211c80319c"

	req := httptest.NewRequest(http.MethodGet, "/v1/ingest/status", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")
	TracingMiddleware(tp)(statusHandler(http.StatusOK)).ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, traceID, spans[0].SpanContext.TraceID().String())
}
