package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

const (
	// FileExtension is appended to the job name to form the checkpoint file name
	FileExtension = ".checkpoint"

	lockRetryDelay = 20 * time.Millisecond
)

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Store defines the interface for checkpoint persistence
type Store interface {
	// Save overwrites the checkpoint of job
	Save(ctx context.Context, job string, cp Checkpoint) error

	// Load returns the checkpoint of job, or nil when there is none.
	// A corrupt record loads as nil.
	Load(ctx context.Context, job string) (*Checkpoint, error)

	// Clear removes the checkpoint of job; a missing checkpoint is not an error
	Clear(ctx context.Context, job string) error
}

// FileStore keeps one checkpoint file per job in a directory
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates a FileStore rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

// Path returns the checkpoint file of job
func (s *FileStore) Path(job string) string {
	return filepath.Join(s.dir, job+FileExtension)
}

// Save implements Store
func (s *FileStore) Save(ctx context.Context, job string, cp Checkpoint) error {
	if err := validateJob(job); err != nil {
		return err
	}
	cp.Job = job
	if cp.SavedAt.IsZero() {
		cp.SavedAt = s.now().UTC()
	}

	data, err := Encode(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint for job '%s': %w", job, err)
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	unlock, err := s.lock(ctx, job)
	if err != nil {
		return err
	}
	defer unlock()

	filePath := s.Path(job)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary checkpoint file for job '%s': %w", job, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file for job '%s': %w", job, err)
	}
	return nil
}

// Load implements Store
func (s *FileStore) Load(ctx context.Context, job string) (*Checkpoint, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}

	// #nosec G304 -- path is the store directory plus a validated job name
	data, err := os.ReadFile(s.Path(job))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file for job '%s': %w", job, err)
	}

	cp, err := Decode(data)
	if err != nil {
		slog.WarnContext(ctx, "Ignoring unreadable checkpoint",
			"job", job,
			"path", s.Path(job),
			"error", err,
		)
		return nil, nil
	}
	if cp.Job != job {
		slog.WarnContext(ctx, "Ignoring checkpoint recorded for another job",
			"job", job,
			"recorded_job", cp.Job,
		)
		return nil, nil
	}
	return cp, nil
}

// Clear implements Store
func (s *FileStore) Clear(ctx context.Context, job string) error {
	if err := validateJob(job); err != nil {
		return err
	}
	if _, err := os.Stat(s.dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	unlock, err := s.lock(ctx, job)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.Path(job)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint file for job '%s': %w", job, err)
	}
	return nil
}

// lock takes the per-job lock file so concurrent writers never interleave
func (s *FileStore) lock(ctx context.Context, job string) (func(), error) {
	fl := flock.New(s.Path(job) + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock checkpoint for job '%s': %w", job, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock checkpoint for job '%s'", job)
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}

func validateJob(job string) error {
	if !jobNamePattern.MatchString(job) {
		return fmt.Errorf("invalid checkpoint job name %q", job)
	}
	return nil
}
