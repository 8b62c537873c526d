package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type outcome string

const (
	outcomeSuccess outcome = "success"
	outcomeNoData  outcome = "no_data"
	outcomeFailure outcome = "failure"
	outcomeSkipped outcome = "skipped"
)

// run is the context object of one ingestion run. Counters and the quota flag
// are read concurrently by Status while workers update them.
type run struct {
	id        string
	req       Request
	job       string
	startedAt time.Time

	// quota is set once when the upstream quota runs out and never cleared
	quota atomic.Bool
	// stop cancels the work context of the run; set before any task starts
	stop context.CancelCauseFunc

	total     atomic.Int64
	processed atomic.Int64
	success   atomic.Int64
	failure   atomic.Int64
	noData    atomic.Int64
	skipped   atomic.Int64

	mu         sync.Mutex
	phase      Phase
	entities   int
	periods    int
	position   int
	resumable  bool
	finishedAt time.Time
	err        error
}

func newRun(id string, req Request, now time.Time) *run {
	return &run{id: id, req: req, job: req.Job(), startedAt: now, phase: PhaseRunning}
}

// tripQuota raises the quota flag and cancels in-flight calls of the run. It
// reports whether this call raised the flag.
func (r *run) tripQuota(cause error) bool {
	if !r.quota.CompareAndSwap(false, true) {
		return false
	}
	if r.stop != nil {
		r.stop(cause)
	}
	return true
}

func (r *run) count(o outcome) {
	switch o {
	case outcomeSkipped:
		r.skipped.Add(1)
		return
	case outcomeSuccess:
		r.success.Add(1)
	case outcomeNoData:
		r.noData.Add(1)
	default:
		r.failure.Add(1)
	}
	r.processed.Add(1)
}

func (r *run) plan(entities, periods, tasks, position int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = entities
	r.periods = periods
	r.position = position
	r.total.Store(int64(tasks))
}

func (r *run) advance(position int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if position > r.position {
		r.position = position
	}
}

func (r *run) finish(phase Phase, resumable bool, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
	r.resumable = resumable
	r.err = err
	r.finishedAt = now
}

func (r *run) status(now time.Time) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		RunID:              r.id,
		Kind:               r.req.Kind,
		Phase:              r.phase,
		Running:            r.phase == PhaseRunning,
		Entities:           r.entities,
		Periods:            r.periods,
		Total:              r.total.Load(),
		Processed:          r.processed.Load(),
		Success:            r.success.Load(),
		Failure:            r.failure.Load(),
		NoData:             r.noData.Load(),
		Skipped:            r.skipped.Load(),
		StartedAt:          r.startedAt,
		FinishedAt:         r.finishedAt,
		Resumable:          r.resumable,
		CheckpointPosition: r.position,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}

	end := now
	if !r.finishedAt.IsZero() {
		end = r.finishedAt
	}
	s.Elapsed = end.Sub(r.startedAt)

	if s.Total > 0 {
		s.Percentage = float64(s.Processed) * 100 / float64(s.Total)
	}
	if s.Running && s.Processed > 0 && s.Total > s.Processed {
		s.EstimatedRemaining = time.Duration(int64(s.Elapsed) / s.Processed * (s.Total - s.Processed))
	}
	return s
}

// watermark tracks the number of leading entities whose tasks have all completed.
// Skipped tasks never complete, so the watermark stops before the first entity with one.
type watermark struct {
	mu        sync.Mutex
	remaining []int
	next      int
	saved     int
	every     int
	save      func(position int)
}

func newWatermark(entities, start, periods, every int, save func(position int)) *watermark {
	w := &watermark{
		remaining: make([]int, entities),
		next:      start,
		saved:     start,
		every:     max(every, 1),
		save:      save,
	}
	for i := start; i < entities; i++ {
		w.remaining[i] = periods
	}
	w.settle()
	return w
}

// done marks one task of the entity at index as completed. Saves are issued under
// the lock so they never interleave and positions only grow.
func (w *watermark) done(index int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if index < 0 || index >= len(w.remaining) || w.remaining[index] == 0 {
		return
	}
	w.remaining[index]--
	w.settle()

	if w.next-w.saved >= w.every {
		w.saved = w.next
		if w.save != nil {
			w.save(w.next)
		}
	}
}

func (w *watermark) settle() {
	for w.next < len(w.remaining) && w.remaining[w.next] == 0 {
		w.next++
	}
}

func (w *watermark) position() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}
