package ingest

import (
	"time"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/kpi"
)

const (
	// DefaultParallelism is the worker count when neither request nor config sets one
	DefaultParallelism = 2
	// DefaultRecentMonths is the window of a recent run
	DefaultRecentMonths = 1
	// DefaultBackfillMonths is the window of a backfill run
	DefaultBackfillMonths = 24
	// DefaultYearsBack is the span of an entity run without explicit years
	DefaultYearsBack = 3
	// DefaultCheckpointEvery is the number of completed entities between checkpoint saves
	DefaultCheckpointEvery = 10
)

// DefaultReportKinds are the periodic filings that carry donation disclosures, in preference order
func DefaultReportKinds() []string {
	return []string{"사업보고서", "반기보고서", "분기보고서"}
}

// Config tunes the orchestrator
type Config struct {
	Parallelism int

	// MaxTargets caps the ranked entity list; zero means no cap
	MaxTargets int

	RecentMonths   int
	BackfillMonths int
	YearsBack      int

	Metric string

	// PriorityCodes are ranked first, in list order
	PriorityCodes []string
	FallbackRank  int

	// ReportKinds are matched against report names; earlier entries are preferred
	ReportKinds []string

	// CallDelay plus a random share of CallJitter is slept between API calls of a task
	CallDelay  time.Duration
	CallJitter time.Duration

	// ErrorDelay is slept after a failed task
	ErrorDelay time.Duration

	CheckpointEvery int

	// Location interprets filing dates and the current month
	Location *time.Location
}

// DefaultConfig returns the orchestrator defaults with no pacing delays
func DefaultConfig() Config {
	return Config{
		Parallelism:     DefaultParallelism,
		RecentMonths:    DefaultRecentMonths,
		BackfillMonths:  DefaultBackfillMonths,
		YearsBack:       DefaultYearsBack,
		Metric:          kpi.MetricDonationAmount,
		FallbackRank:    DefaultFallbackRank,
		ReportKinds:     DefaultReportKinds(),
		CheckpointEvery: DefaultCheckpointEvery,
		Location:        time.UTC,
	}
}

// ConfigFrom builds the orchestrator settings from the loaded configuration
func ConfigFrom(cfg *config.Config, loc *time.Location) Config {
	out := DefaultConfig()
	if loc != nil {
		out.Location = loc
	}
	if cfg == nil {
		return out
	}

	ic := cfg.Ingest
	out.Parallelism = ic.GetParallelism()
	out.MaxTargets = ic.GetMaxTargets()
	out.YearsBack = ic.GetYearsBack()
	out.Metric = ic.GetMetric()
	out.PriorityCodes = ic.GetPriorityCodes()
	out.ReportKinds = ic.GetReportKinds()
	out.CallDelay = ic.GetCallDelay()
	out.CallJitter = ic.GetCallJitter()
	out.ErrorDelay = ic.GetErrorDelay()
	out.CheckpointEvery = ic.GetCheckpointEvery()

	schedule := cfg.GetSchedule()
	out.RecentMonths = schedule.GetRecent().Months
	out.BackfillMonths = schedule.GetBackfill().Months
	return out
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.MaxTargets < 0 {
		c.MaxTargets = 0
	}
	if c.RecentMonths <= 0 {
		c.RecentMonths = d.RecentMonths
	}
	if c.BackfillMonths <= 0 {
		c.BackfillMonths = d.BackfillMonths
	}
	if c.YearsBack <= 0 {
		c.YearsBack = d.YearsBack
	}
	if c.Metric == "" {
		c.Metric = d.Metric
	}
	if c.FallbackRank == 0 {
		c.FallbackRank = d.FallbackRank
	}
	if len(c.ReportKinds) == 0 {
		c.ReportKinds = d.ReportKinds
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = d.CheckpointEvery
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}
