package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ingestapp "github.com/impactledger/impact-ingest/internal/app"
	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion service",
	Long: `Start the ingestion service: the calendar trigger, the manual trigger API
and the health and metrics endpoints.

The service requires a configuration file (--config) that specifies:
- The disclosure API origin and key file
- Storage (memory, sqlite or postgres)
- The schedule and ingest defaults

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // In-flight run needs time to save its checkpoint
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	tel, err := newTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	app, err := ingestapp.NewIngestApp(ctx,
		ingestapp.WithConfig(cfg),
		ingestapp.WithAddress(viper.GetString("address")),
		ingestapp.WithMeterProvider(tel.MeterProvider()),
		ingestapp.WithTracerProvider(tel.TracerProvider()),
		ingestapp.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			_ = app.Stop(defaultGracefulTimeout)
			return err
		}
	}

	return app.Stop(defaultGracefulTimeout)
}

func newTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}

func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		slog.Error("Failed to shutdown telemetry", "error", err)
	}
}
