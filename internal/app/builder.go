package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/impactledger/impact-ingest/internal/api"
	"github.com/impactledger/impact-ingest/internal/app/storage"
	"github.com/impactledger/impact-ingest/internal/checkpoint"
	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/directory"
	"github.com/impactledger/impact-ingest/internal/disclosure"
	"github.com/impactledger/impact-ingest/internal/httpclient"
	"github.com/impactledger/impact-ingest/internal/ingest"
	"github.com/impactledger/impact-ingest/internal/parser"
	"github.com/impactledger/impact-ingest/internal/scheduler"
	"github.com/impactledger/impact-ingest/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// directoryTimeout bounds the whole directory download, which is a large archive
	directoryTimeout = 5 * time.Minute
)

// IngestAppOptions is a function that configures the ingest app builder
type IngestAppOptions func(*ingestAppConfig) error

// ingestAppConfig collects everything the builder needs.
// It supports dependency injection for testing while providing sensible defaults for production
type ingestAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory   storage.Factory
	directorySource  directory.Source
	disclosureClient disclosure.Client
	checkpointStore  checkpoint.Store

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...IngestAppOptions) (*ingestAppConfig, error) {
	cfg := &ingestAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewIngestApp builds the ingestion service from its configuration
func NewIngestApp(
	ctx context.Context,
	opts ...IngestAppOptions,
) (*IngestApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	// Create storage factory (single decision point for memory vs database)
	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.storageFactory.Cleanup()
		}
	}()

	orchestrator, err := buildIngestComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build ingest components: %w", err)
	}

	sched, err := buildScheduler(cfg, orchestrator)
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, orchestrator)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	return &IngestApp{
		config: cfg.config,
		components: &AppComponents{
			Orchestrator: orchestrator,
			Scheduler:    sched,
			Storage:      cfg.storageFactory,
		},
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithRequestTimeout bounds each HTTP request
func WithRequestTimeout(d time.Duration) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithDirectorySource allows injecting a custom entity directory (for testing)
func WithDirectorySource(src directory.Source) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.directorySource = src
		return nil
	}
}

// WithDisclosureClient allows injecting a custom disclosure API client (for testing)
func WithDisclosureClient(c disclosure.Client) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.disclosureClient = c
		return nil
	}
}

// WithCheckpointStore allows injecting a custom checkpoint store (for testing)
func WithCheckpointStore(s checkpoint.Store) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.checkpointStore = s
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for run, API and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for run and HTTP spans
func WithTracerProvider(tp trace.TracerProvider) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler mounts a Prometheus scrape handler at /metrics
func WithMetricsHandler(h http.Handler) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildIngestComponents builds the directory, API client, parser, checkpoint store
// and the orchestrator that ties them together
func buildIngestComponents(
	ctx context.Context,
	b *ingestAppConfig,
) (*ingest.Orchestrator, error) {
	slog.Info("Initializing ingest components")

	cfg := b.config
	loc, err := cfg.GetSchedule().GetLocation()
	if err != nil {
		return nil, err
	}

	store, err := b.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create KPI store: %w", err)
	}

	var apiMetrics *telemetry.APIMetrics
	var ingestMetrics *telemetry.IngestMetrics
	if b.meterProvider != nil {
		if apiMetrics, err = telemetry.NewAPIMetrics(b.meterProvider); err != nil {
			return nil, fmt.Errorf("failed to create API metrics: %w", err)
		}
		if ingestMetrics, err = telemetry.NewIngestMetrics(b.meterProvider); err != nil {
			return nil, fmt.Errorf("failed to create ingest metrics: %w", err)
		}
		slog.Info("Ingest metrics enabled")
	}

	if b.directorySource == nil || b.disclosureClient == nil {
		apiKey, err := cfg.Disclosure.GetAPIKey()
		if err != nil {
			return nil, err
		}

		if b.directorySource == nil {
			b.directorySource = newDirectorySource(cfg, apiKey)
		}
		if b.disclosureClient == nil {
			b.disclosureClient = newDisclosureClient(cfg, apiKey, loc, apiMetrics)
		}
	}

	if b.checkpointStore == nil {
		b.checkpointStore = checkpoint.NewFileStore(cfg.Ingest.GetCheckpointDir())
	}

	extractor := parser.New(
		parser.WithKeywords(cfg.Parser.GetKeywords()...),
		parser.WithWindow(cfg.Parser.GetWindow()),
	)

	opts := []ingest.Option{ingest.WithEntityLookup(store)}
	if ingestMetrics != nil {
		opts = append(opts, ingest.WithMetrics(ingestMetrics))
	}
	if b.tracerProvider != nil {
		opts = append(opts, ingest.WithTracerProvider(b.tracerProvider))
	}

	orchestrator, err := ingest.New(ingest.Dependencies{
		Directory:   b.directorySource,
		Registry:    store,
		Client:      b.disclosureClient,
		Extractor:   extractor,
		Gateway:     store,
		Checkpoints: b.checkpointStore,
	}, ingest.ConfigFrom(cfg, loc), opts...)
	if err != nil {
		return nil, err
	}

	slog.Info("Ingest components initialized successfully")
	return orchestrator, nil
}

func newDirectorySource(cfg *config.Config, apiKey string) *directory.Downloader {
	d := cfg.Directory
	client := httpclient.NewDefaultClient(directoryTimeout,
		httpclient.WithConnectTimeout(cfg.Disclosure.GetConnectTimeout()),
		httpclient.WithResponseTimeout(cfg.Disclosure.GetResponseTimeout()),
	)
	return directory.NewDownloader(client, cfg.Disclosure.GetBaseURL(), apiKey,
		directory.WithCacheDir(d.GetCacheDir()),
		directory.WithCacheTTL(d.GetCacheTTL()),
		directory.WithMemberName(d.GetMemberName()),
		directory.WithRetry(d.GetAttempts(), d.GetBaseDelay(), d.GetMaxDelay()),
	)
}

func newDisclosureClient(
	cfg *config.Config,
	apiKey string,
	loc *time.Location,
	metrics *telemetry.APIMetrics,
) *disclosure.DefaultClient {
	dc := cfg.Disclosure
	client := httpclient.NewDefaultClient(0,
		httpclient.WithConnectTimeout(dc.GetConnectTimeout()),
		httpclient.WithResponseTimeout(dc.GetResponseTimeout()),
	)

	var opts []disclosure.Option
	if metrics != nil {
		opts = append(opts, disclosure.WithMetrics(metrics))
	}

	return disclosure.NewClient(client, disclosure.Config{
		BaseURL:  dc.GetBaseURL(),
		APIKey:   apiKey,
		PageSize: dc.GetPageSize(),
		MaxPages: dc.GetMaxPages(),
		Retry: disclosure.RetryPolicy{
			MaxRetries: dc.Retry.GetMaxRetries(),
			BaseDelay:  dc.Retry.GetBaseDelay(),
			MaxDelay:   dc.Retry.GetMaxDelay(),
			Multiplier: dc.Retry.GetMultiplier(),
			Jitter:     dc.Retry.GetJitter(),
		},
		ConsecutiveErrors: dc.Quota.GetConsecutiveErrors(),
		QuotaStatusCodes:  dc.Quota.GetStatusCodes(),
		QuotaMessages:     dc.Quota.GetMessages(),
		RequestsPerSecond: dc.RateLimit.GetRequestsPerSecond(),
		Burst:             dc.RateLimit.GetBurst(),
		Location:          loc,
	}, opts...)
}

// buildScheduler returns nil when the calendar trigger is disabled
func buildScheduler(b *ingestAppConfig, trigger scheduler.Trigger) (*scheduler.Scheduler, error) {
	sc := b.config.GetSchedule()
	if sc.Disabled {
		slog.Info("Calendar trigger disabled; runs start only from the API")
		return nil, nil
	}

	schedules, err := scheduler.FromConfig(sc)
	if err != nil {
		return nil, err
	}

	var opts []scheduler.Option
	if sc.RunOnStartup {
		backfill := sc.GetBackfill()
		opts = append(opts, scheduler.WithRunOnStartup(ingest.Request{
			Kind:        ingest.KindBackfill,
			Months:      backfill.Months,
			Parallelism: backfill.Parallelism,
		}))
	}

	for _, s := range schedules {
		slog.Info("Scheduled ingestion run", "schedule", s.String())
	}
	return scheduler.New(trigger, schedules, opts...), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	b *ingestAppConfig,
	ingestor *ingest.Orchestrator,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = api.DefaultMiddlewares(b.requestTimeout)
	}

	// Tracing wraps metrics so request spans cover the whole chain
	var prefix []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		prefix = append(prefix, telemetry.TracingMiddleware(b.tracerProvider))
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			prefix = append(prefix, metricsMiddleware)
			slog.Info("HTTP metrics middleware enabled")
		}
	}
	b.middlewares = append(prefix, b.middlewares...)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
		api.WithReadinessChecker(b.storageFactory),
	}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(ingestor, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
