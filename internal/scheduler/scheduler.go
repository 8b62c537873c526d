// Package scheduler fires ingestion runs on a weekly or daily calendar.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/ingest"
)

//go:generate mockgen -destination=mocks/mock_trigger.go -package=mocks -source=scheduler.go Trigger

// Trigger is an interface for starting a background ingestion run
type Trigger interface {
	// Start admits req and returns without waiting for it to finish
	Start(req ingest.Request) (ingest.Status, error)
}

// Schedule is one calendar entry
type Schedule struct {
	Name string

	// Weekday restricts firing to one day of the week; nil means every day
	Weekday *time.Weekday

	Hour     int
	Minute   int
	Location *time.Location

	Request ingest.Request
}

// Next returns the first firing strictly after the given instant
func (s Schedule) Next(after time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := after.In(loc)

	for day := 0; day <= 7; day++ {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+day, s.Hour, s.Minute, 0, 0, loc)
		if !candidate.After(local) {
			continue
		}
		if s.Weekday != nil && candidate.Weekday() != *s.Weekday {
			continue
		}
		return candidate
	}
	// unreachable: every weekday occurs within eight consecutive days
	return time.Date(local.Year(), local.Month(), local.Day()+7, s.Hour, s.Minute, 0, 0, loc)
}

func (s Schedule) String() string {
	day := "daily"
	if s.Weekday != nil {
		day = s.Weekday.String()
	}
	return fmt.Sprintf("%s %s %02d:%02d %s", s.Name, day, s.Hour, s.Minute, s.Location)
}

// FromConfig builds the recent and backfill schedules
func FromConfig(cfg *config.ScheduleConfig) ([]Schedule, error) {
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}

	jobs := []struct {
		name string
		kind ingest.Kind
		job  config.JobConfig
	}{
		{name: "recent", kind: ingest.KindRecent, job: cfg.GetRecent()},
		{name: "backfill", kind: ingest.KindBackfill, job: cfg.GetBackfill()},
	}

	schedules := make([]Schedule, 0, len(jobs))
	for _, j := range jobs {
		hour, minute, err := config.ParseClock(j.job.At)
		if err != nil {
			return nil, fmt.Errorf("invalid %s schedule: %w", j.name, err)
		}

		s := Schedule{
			Name:     j.name,
			Hour:     hour,
			Minute:   minute,
			Location: loc,
			Request: ingest.Request{
				Kind:        j.kind,
				Months:      j.job.Months,
				Parallelism: j.job.Parallelism,
			},
		}
		if j.job.Weekday != "" {
			wd, err := config.ParseWeekday(j.job.Weekday)
			if err != nil {
				return nil, fmt.Errorf("invalid %s schedule: %w", j.name, err)
			}
			s.Weekday = &wd
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// Scheduler starts runs through a Trigger when their schedule fires
type Scheduler struct {
	trigger   Trigger
	schedules []Schedule
	onStartup *ingest.Request
	now       func() time.Time

	// Lifecycle management
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the scheduler
type Option func(*Scheduler)

// WithRunOnStartup fires req as soon as Start is called
func WithRunOnStartup(req ingest.Request) Option {
	return func(s *Scheduler) {
		s.onStartup = &req
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler over the given schedules
func New(trigger Trigger, schedules []Schedule, opts ...Option) *Scheduler {
	s := &Scheduler{
		trigger:   trigger,
		schedules: schedules,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the calendar loop. It blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		close(s.done)
		slog.Info("Ingestion scheduler shutting down")
	}()

	slog.Info("Starting ingestion scheduler", "schedules", len(s.schedules))
	for _, sched := range s.schedules {
		slog.Info("Configured ingestion schedule", "schedule", sched.String(), "next", sched.Next(s.now()))
	}

	if s.onStartup != nil {
		s.fire("startup", *s.onStartup)
	}
	if len(s.schedules) == 0 {
		<-ctx.Done()
		return nil
	}

	for {
		due, at := s.nextDue(s.now())
		timer := time.NewTimer(at.Sub(s.now()))

		select {
		case <-timer.C:
			for _, sched := range due {
				s.fire(sched.Name, sched.Request)
			}
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Ingestion scheduler stopping")
			return nil
		}
	}
}

// Stop cancels the loop and waits for it to exit
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-s.done
	return nil
}

// nextDue returns the schedules sharing the earliest next firing
func (s *Scheduler) nextDue(now time.Time) ([]Schedule, time.Time) {
	var (
		due      []Schedule
		earliest time.Time
	)
	for _, sched := range s.schedules {
		next := sched.Next(now)
		switch {
		case earliest.IsZero() || next.Before(earliest):
			earliest = next
			due = []Schedule{sched}
		case next.Equal(earliest):
			due = append(due, sched)
		}
	}
	return due, earliest
}

func (s *Scheduler) fire(name string, req ingest.Request) {
	st, err := s.trigger.Start(req)
	switch {
	case errors.Is(err, ingest.ErrAlreadyRunning):
		slog.Info("Skipping scheduled run, another run is in progress", "schedule", name)
	case err != nil:
		slog.Error("Failed to start scheduled run", "schedule", name, "error", err)
	default:
		slog.Info("Started scheduled run", "schedule", name, "run_id", st.RunID, "kind", st.Kind)
	}
}
