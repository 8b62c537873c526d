package app

import (
	"github.com/impactledger/impact-ingest/internal/app/storage"
	"github.com/impactledger/impact-ingest/internal/ingest"
	"github.com/impactledger/impact-ingest/internal/scheduler"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Orchestrator executes ingestion runs
	Orchestrator *ingest.Orchestrator

	// Scheduler fires calendar runs; nil when the calendar trigger is disabled
	Scheduler *scheduler.Scheduler

	// Storage owns the KPI store and its database connection
	Storage storage.Factory
}
