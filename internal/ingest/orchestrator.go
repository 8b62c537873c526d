// Package ingest runs batch collection of disclosed donation amounts: it ranks
// the entity universe, fans (entity, period) tasks out to a bounded worker pool
// and records progress so an interrupted run can resume.
package ingest

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/impactledger/impact-ingest/internal/checkpoint"
	"github.com/impactledger/impact-ingest/internal/directory"
	"github.com/impactledger/impact-ingest/internal/disclosure"
	"github.com/impactledger/impact-ingest/internal/kpi"
	"github.com/impactledger/impact-ingest/internal/logging"
	"github.com/impactledger/impact-ingest/internal/otel"
	"github.com/impactledger/impact-ingest/internal/parser"
	"github.com/impactledger/impact-ingest/internal/period"
	"github.com/impactledger/impact-ingest/internal/telemetry"
	"github.com/impactledger/impact-ingest/internal/versions"
)

// TracerName is the instrumentation scope of orchestrator spans
const TracerName = "github.com/impactledger/impact-ingest/ingest"

// EntityLookup resolves a registered entity for single-entity runs
type EntityLookup interface {
	Entity(ctx context.Context, code string) (*directory.Entity, error)
}

// Dependencies are the collaborators of an Orchestrator
type Dependencies struct {
	Directory   directory.Source
	Registry    kpi.EntityRegistry
	Client      disclosure.Client
	Extractor   parser.Extractor
	Gateway     kpi.Gateway
	Checkpoints checkpoint.Store
}

func (d Dependencies) validate() error {
	switch {
	case d.Directory == nil:
		return fmt.Errorf("directory source is required")
	case d.Registry == nil:
		return fmt.Errorf("entity registry is required")
	case d.Client == nil:
		return fmt.Errorf("disclosure client is required")
	case d.Extractor == nil:
		return fmt.Errorf("extractor is required")
	case d.Gateway == nil:
		return fmt.Errorf("kpi gateway is required")
	case d.Checkpoints == nil:
		return fmt.Errorf("checkpoint store is required")
	}
	return nil
}

// Orchestrator admits at most one ingestion run at a time
type Orchestrator struct {
	deps    Dependencies
	cfg     Config
	lookup  EntityLookup
	metrics *telemetry.IngestMetrics
	tracer  trace.Tracer
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(n int64) int64

	running atomic.Bool

	// mu guards current and closed; admission adds to wg under it
	mu      sync.RWMutex
	current *run
	closed  bool

	// Lifecycle management
	lifecycle context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option is a function that configures the orchestrator
type Option func(*Orchestrator)

// WithEntityLookup sets where single-entity runs resolve their entity
func WithEntityLookup(lookup EntityLookup) Option {
	return func(o *Orchestrator) {
		o.lookup = lookup
	}
}

// WithMetrics sets the ingestion metrics
func WithMetrics(m *telemetry.IngestMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracerProvider sets the provider of run and task spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep overrides how pacing delays are waited out
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// New creates an orchestrator. Close must be called to release background runs.
func New(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	lifecycle, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:      deps,
		cfg:       cfg.withDefaults(),
		tracer:    noop.NewTracerProvider().Tracer(TracerName),
		now:       time.Now,
		sleep:     sleepContext,
		jitter:    randomInt64N,
		lifecycle: lifecycle,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes req and blocks until it reaches a terminal phase.
// Only a run that cannot build its task set returns an error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Status, error) {
	r, err := o.admit(req)
	if err != nil {
		return Status{}, err
	}
	defer o.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.lifecycle, cancel)
	defer stop()

	return o.execute(ctx, r)
}

// Start executes req in the background on the orchestrator lifecycle and returns
// the initial status of the admitted run
func (o *Orchestrator) Start(req Request) (Status, error) {
	r, err := o.admit(req)
	if err != nil {
		return Status{}, err
	}

	go func() {
		defer o.wg.Done()
		if _, err := o.execute(o.lifecycle, r); err != nil {
			slog.Error("Background ingestion run failed", "run_id", r.id, "error", err)
		}
	}()
	return r.status(o.now()), nil
}

// Status returns the active run, or the last finished one
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	r := o.current
	o.mu.RUnlock()

	if r == nil {
		return Status{Phase: PhaseIdle}
	}
	return r.status(o.now())
}

// Running reports whether a run is in progress
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Close cancels the active run and waits for it to save its checkpoint
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) admit(req Request) (*run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	r := newRun(uuid.NewString(), req, o.now())
	o.current = r
	o.wg.Add(1)
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (st Status, err error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "ingest.run", trace.WithAttributes(
		otel.AttrRunID.String(r.id),
		otel.AttrKind.String(string(r.req.Kind)),
		otel.AttrJob.String(r.job),
	))
	defer span.End()

	ctx = logging.IntoContext(ctx, "run_id", r.id, "kind", r.req.Kind)
	logger := logging.FromContext(ctx)
	logger.Info("Starting ingestion run", "job", r.job, "fresh", r.req.Fresh)

	// Failed unless a later step says otherwise
	phase := PhaseFailed
	resumable := false
	defer func() {
		r.finish(phase, resumable, err, o.now())
		st = r.status(o.now())
		o.running.Store(false)

		o.metrics.RecordRun(context.WithoutCancel(ctx), string(r.req.Kind), string(phase), st.Elapsed, phase == PhaseQuotaAborted)
		span.SetAttributes(otel.AttrPhase.String(string(phase)))
		otel.RecordError(span, err)
		logger.Info("Ingestion run finished",
			"phase", phase,
			"processed", st.Processed,
			"total", st.Total,
			"success", st.Success,
			"no_data", st.NoData,
			"failure", st.Failure,
			"skipped", st.Skipped,
			"elapsed", st.Elapsed)
	}()

	o.deps.Client.ResetStreak()

	entities, err := o.targets(ctx, r.req)
	if err != nil {
		if ctx.Err() != nil {
			phase = PhaseCancelled
		}
		return Status{}, err
	}

	periods := o.periods(r.req)
	window := period.Window(periods)
	start := o.resume(ctx, r, entities, window)
	tasks := BuildTasks(entities, periods)[start*len(periods):]
	r.plan(len(entities), len(periods), len(tasks), start)
	logger.Info("Planned ingestion run",
		"entities", len(entities),
		"periods", len(periods),
		"tasks", len(tasks),
		"resume_from", start)

	wm := newWatermark(len(entities), start, len(periods), o.cfg.CheckpointEvery, func(position int) {
		r.advance(position)
		o.saveCheckpoint(ctx, r, entities, window, position)
	})

	parallelism := o.cfg.Parallelism
	if r.req.Parallelism > 0 {
		parallelism = r.req.Parallelism
	}

	// Tasks run on a child context that a quota trip cancels, so pages and
	// retries in flight stop with it. ctx itself is only cancelled from outside.
	work, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	r.stop = stop

	var g errgroup.Group
	g.SetLimit(parallelism)
	for _, t := range tasks {
		if r.quota.Load() || work.Err() != nil {
			o.record(ctx, r, outcomeSkipped)
			continue
		}
		g.Go(func() error {
			o.runTask(work, r, wm, t)
			return nil
		})
	}
	_ = g.Wait()

	position := wm.position()
	r.advance(position)

	switch {
	case r.quota.Load():
		phase = PhaseQuotaAborted
		resumable = true
		o.saveCheckpoint(ctx, r, entities, window, position)
		logger.Info("Ingestion run stopped by API quota, checkpoint saved", "position", position)
	case ctx.Err() != nil:
		phase = PhaseCancelled
		resumable = true
		o.saveCheckpoint(ctx, r, entities, window, position)
		logger.Info("Ingestion run cancelled, checkpoint saved", "position", position)
	default:
		phase = PhaseCompleted
		if cerr := o.deps.Checkpoints.Clear(context.WithoutCancel(ctx), r.job); cerr != nil {
			logger.Error(cerr, "Failed to clear checkpoint", "job", r.job)
		}
	}
	return Status{}, nil
}

// targets returns the ranked entity list of req
func (o *Orchestrator) targets(ctx context.Context, req Request) ([]directory.Entity, error) {
	if req.Kind == KindEntity {
		return []directory.Entity{o.resolveEntity(ctx, req.EntityCode)}, nil
	}

	logger := logging.FromContext(ctx)
	entities, err := o.deps.Directory.FetchEntities(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to refresh entity directory")
	}

	result, err := o.deps.Registry.UpsertEntities(ctx, entities)
	if err != nil {
		logger.Error(err, "Failed to sync organization registry, continuing with downloaded directory")
	} else {
		logger.Info("Synced organization registry",
			"inserted", result.Inserted,
			"updated", result.Updated,
			"unchanged", result.Unchanged)
	}

	maxTargets := o.cfg.MaxTargets
	if req.MaxTargets > 0 {
		maxTargets = req.MaxTargets
	}
	return Rank(entities, o.cfg.PriorityCodes, o.cfg.FallbackRank, maxTargets), nil
}

func (o *Orchestrator) resolveEntity(ctx context.Context, code string) directory.Entity {
	if o.lookup != nil {
		e, err := o.lookup.Entity(ctx, code)
		switch {
		case err == nil && e != nil:
			return *e
		case err != nil && !errors.Is(err, kpi.ErrNotFound):
			logging.FromContext(ctx).Error(err, "Failed to look up entity, using its code only", "entity", code)
		}
	}
	return directory.Entity{Code: code}
}

// periods returns the ordered period list of req
func (o *Orchestrator) periods(req Request) []period.Period {
	now := o.now().In(o.cfg.Location)

	var periods []period.Period
	switch req.Kind {
	case KindEntity:
		to := req.ToYear
		if to == 0 {
			to = now.Year()
		}
		from := req.FromYear
		if from == 0 {
			from = to - o.cfg.YearsBack + 1
		}
		periods = period.YearRange(from, to)
	case KindBackfill:
		periods = period.RecentMonths(now, cmp.Or(req.Months, o.cfg.BackfillMonths))
	default:
		periods = period.RecentMonths(now, cmp.Or(req.Months, o.cfg.RecentMonths))
	}
	period.Order(periods)
	return periods
}

// resume returns the index of the first entity whose tasks must be issued.
// A checkpoint saved over another period window is discarded.
func (o *Orchestrator) resume(ctx context.Context, r *run, entities []directory.Entity, window string) int {
	logger := logging.FromContext(ctx)

	if r.req.Fresh {
		if err := o.deps.Checkpoints.Clear(ctx, r.job); err != nil {
			logger.Error(err, "Failed to discard checkpoint", "job", r.job)
		}
		return 0
	}

	cp, err := o.deps.Checkpoints.Load(ctx, r.job)
	if err != nil {
		logger.Error(err, "Failed to load checkpoint, starting from the beginning", "job", r.job)
		return 0
	}
	if cp == nil {
		return 0
	}
	if cp.Window != window {
		logger.Info("Discarding checkpoint saved over a different period window",
			"job", r.job,
			"previous_run_id", cp.RunID,
			"position", cp.Position,
			"checkpoint_window", cp.Window,
			"window", window)
		if err := o.deps.Checkpoints.Clear(ctx, r.job); err != nil {
			logger.Error(err, "Failed to discard checkpoint", "job", r.job)
		}
		return 0
	}

	if versions.IsNewer(cp.WrittenBy, versions.Version) {
		logger.Info("Checkpoint was written by a newer release", "written_by", cp.WrittenBy, "running", versions.Version)
	}

	start := resumeIndex(entities, cp.Position, cp.LastCode)
	logger.Info("Resuming from checkpoint",
		"previous_run_id", cp.RunID,
		"position", cp.Position,
		"last_code", cp.LastCode,
		"start", start)
	return start
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, r *run, entities []directory.Entity, window string, position int) {
	cp := checkpoint.Checkpoint{
		Job:       r.job,
		RunID:     r.id,
		Position:  position,
		Window:    window,
		Total:     len(entities),
		SavedAt:   o.now(),
		WrittenBy: versions.Version,
	}
	if position > 0 && position <= len(entities) {
		cp.LastCode = entities[position-1].Code
	}

	if err := o.deps.Checkpoints.Save(context.WithoutCancel(ctx), r.job, cp); err != nil {
		logging.FromContext(ctx).Error(err, "Failed to save checkpoint", "job", r.job, "position", position)
		return
	}
	logging.FromContext(ctx).V(1).Info("Saved checkpoint", "job", r.job, "position", position)
}

func (o *Orchestrator) record(ctx context.Context, r *run, oc outcome) {
	r.count(oc)
	o.metrics.RecordTask(context.WithoutCancel(ctx), string(oc))
}
