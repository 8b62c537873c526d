package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/impactledger/impact-ingest/internal/directory"
	"github.com/impactledger/impact-ingest/internal/period"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while another is active
	ErrAlreadyRunning = errors.New("an ingestion run is already in progress")

	// ErrInvalidRequest marks requests rejected before a run starts
	ErrInvalidRequest = errors.New("invalid ingestion request")

	// ErrClosed is returned once the orchestrator has been closed
	ErrClosed = errors.New("orchestrator is closed")
)

// MaxMonths bounds the period window of a single request
const MaxMonths = 120

// Year bounds of entity runs
const (
	MinYear = 1900
	MaxYear = 9999
)

// Kind selects the shape of a run
type Kind string

const (
	// KindRecent refreshes the directory and collects the most recent months
	KindRecent Kind = "recent"
	// KindBackfill refreshes the directory and collects a deep window of months
	KindBackfill Kind = "backfill"
	// KindEntity collects whole years for a single entity without touching the directory
	KindEntity Kind = "entity"
)

// ParseKind parses a run kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRecent, KindBackfill, KindEntity:
		return k, nil
	case "":
		return KindRecent, nil
	default:
		return "", errors.Mark(errors.Newf("unknown run kind %q", s), ErrInvalidRequest)
	}
}

// Phase is the lifecycle state of a run
type Phase string

const (
	// PhaseIdle means no run has started yet
	PhaseIdle Phase = "Idle"
	// PhaseRunning means tasks are being executed
	PhaseRunning Phase = "Running"
	// PhaseCompleted means every task was processed
	PhaseCompleted Phase = "Completed"
	// PhaseQuotaAborted means the API quota ran out; the run can be resumed
	PhaseQuotaAborted Phase = "QuotaAborted"
	// PhaseFailed means the run could not build its task set
	PhaseFailed Phase = "Failed"
	// PhaseCancelled means the process shut down mid-run; the run can be resumed
	PhaseCancelled Phase = "Cancelled"
)

// Request describes one run
type Request struct {
	Kind Kind `json:"kind"`

	// Months is the window for recent and backfill runs; zero uses the kind default
	Months int `json:"months,omitempty"`

	// FromYear and ToYear bound entity runs; zero uses the configured span ending this year
	FromYear int `json:"fromYear,omitempty"`
	ToYear   int `json:"toYear,omitempty"`

	EntityCode string `json:"entityCode,omitempty"`

	// Parallelism overrides the configured worker count when positive
	Parallelism int `json:"parallelism,omitempty"`

	// MaxTargets overrides the configured entity cap when positive
	MaxTargets int `json:"maxTargets,omitempty"`

	// Fresh ignores and discards any saved checkpoint
	Fresh bool `json:"fresh,omitempty"`
}

// Validate checks the request and normalizes its kind
func (r *Request) Validate() error {
	kind, err := ParseKind(string(r.Kind))
	if err != nil {
		return err
	}
	r.Kind = kind
	r.EntityCode = strings.TrimSpace(r.EntityCode)

	switch {
	case r.Months < 0 || r.Months > MaxMonths:
		return invalid("months must be between 1 and %d, got %d", MaxMonths, r.Months)
	case r.Parallelism < 0:
		return invalid("parallelism must not be negative, got %d", r.Parallelism)
	case r.MaxTargets < 0:
		return invalid("maxTargets must not be negative, got %d", r.MaxTargets)
	case !validYear(r.FromYear):
		return invalid("from must be a four-digit year between %d and %d, got %d", MinYear, MaxYear, r.FromYear)
	case !validYear(r.ToYear):
		return invalid("to must be a four-digit year between %d and %d, got %d", MinYear, MaxYear, r.ToYear)
	case r.Kind == KindEntity && r.EntityCode == "":
		return invalid("entity runs require an entity code")
	case r.Kind != KindEntity && r.EntityCode != "":
		return invalid("entity code is only valid for entity runs")
	}
	return nil
}

// Job returns the checkpoint job class of the request
func (r Request) Job() string {
	if r.Kind == KindEntity {
		return fmt.Sprintf("donation-entity-%s", r.EntityCode)
	}
	return fmt.Sprintf("donation-%s", r.Kind)
}

// validYear accepts zero, which means the configured default
func validYear(y int) bool {
	return y == 0 || (y >= MinYear && y <= MaxYear)
}

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidRequest)
}

// Task is one (entity, period) unit of work
type Task struct {
	// Index is the position of the entity in the ranked list
	Index  int
	Entity directory.Entity
	Period period.Period
}

// Status is a point-in-time view of a run
type Status struct {
	RunID string `json:"runId,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
	Phase Phase  `json:"phase"`

	Running bool `json:"running"`

	Entities int `json:"entities"`
	Periods  int `json:"periods"`

	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Success   int64 `json:"success"`
	Failure   int64 `json:"failure"`
	NoData    int64 `json:"noData"`
	Skipped   int64 `json:"skipped"`

	Percentage         float64       `json:"percentage"`
	Elapsed            time.Duration `json:"-"`
	EstimatedRemaining time.Duration `json:"-"`

	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`

	// Resumable is set when a checkpoint was left for the next run of the same job
	Resumable          bool `json:"resumable"`
	CheckpointPosition int  `json:"checkpointPosition"`

	Error string `json:"error,omitempty"`
}

// MarshalJSON renders durations as Go duration strings
func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	out := struct {
		alias
		Elapsed            string `json:"elapsed"`
		EstimatedRemaining string `json:"estimatedRemaining,omitempty"`
	}{alias: alias(s), Elapsed: s.Elapsed.Round(time.Millisecond).String()}
	if s.EstimatedRemaining > 0 {
		out.EstimatedRemaining = s.EstimatedRemaining.Round(time.Second).String()
	}
	return json.Marshal(out)
}

// Finished reports whether the run reached a terminal phase
func (s Status) Finished() bool {
	switch s.Phase {
	case PhaseCompleted, PhaseQuotaAborted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}
