// Package app provides application lifecycle management for the ingestion service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/ingest"
)

// IngestApp encapsulates all components needed to run the ingestion service.
// It provides lifecycle management and graceful shutdown capabilities
type IngestApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the scheduler in the background and serves HTTP.
// This method blocks until the HTTP server stops or encounters an error
func (app *IngestApp) Start() error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(listener)
}

// Serve is Start over an existing listener
func (app *IngestApp) Serve(listener net.Listener) error {
	if sched := app.components.Scheduler; sched != nil {
		go func() {
			if err := sched.Start(app.ctx); err != nil {
				slog.Error("Scheduler failed", "error", err)
			}
		}()
	}

	slog.Info("Server listening", "address", listener.Addr().String())
	if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout.
// The scheduler stops first so no new run starts, then an active run is
// cancelled and checkpointed before the HTTP server and storage are closed.
func (app *IngestApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if sched := app.components.Scheduler; sched != nil {
		if err := sched.Stop(); err != nil {
			slog.Error("Failed to stop scheduler", "error", err)
		}
	}

	if err := app.components.Orchestrator.Close(); err != nil {
		slog.Error("Failed to close orchestrator", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)
	app.components.Storage.Cleanup()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// RunOnce executes one blocking run outside the HTTP server and releases
// storage afterwards
func (app *IngestApp) RunOnce(ctx context.Context, req ingest.Request) (ingest.Status, error) {
	defer func() {
		_ = app.components.Orchestrator.Close()
		app.cancelFunc()
		app.components.Storage.Cleanup()
	}()
	return app.components.Orchestrator.Run(ctx, req)
}

// GetConfig returns the application configuration
func (app *IngestApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *IngestApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetOrchestrator returns the run orchestrator
func (app *IngestApp) GetOrchestrator() *ingest.Orchestrator {
	return app.components.Orchestrator
}
