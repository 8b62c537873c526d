// Package checkpoint persists ingestion progress so an interrupted run can resume.
//
// A checkpoint is an advisory watermark: Position is the number of leading
// ranked entities whose tasks have all completed over the period Window it
// records. Resuming from it may repeat work that finished after the last save.
// A run over a different window must not resume from it.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Version is the checkpoint record format written by Encode
const Version = 1

// Checkpoint is the saved progress of one job class
type Checkpoint struct {
	Version  int       `json:"version"`
	Job      string    `json:"job"`
	RunID    string    `json:"runId"`
	Position int       `json:"position"`
	LastCode string    `json:"lastCode,omitempty"`

	// Window fingerprints the ordered periods the position was reached over
	Window string `json:"window,omitempty"`

	Total    int       `json:"total"`
	SavedAt  time.Time `json:"savedAt"`

	// WrittenBy is the release of the binary that saved the record
	WrittenBy string `json:"writtenBy,omitempty"`
}

// Encode renders cp as a single line record, stamping the current version
func Encode(cp Checkpoint) ([]byte, error) {
	if strings.TrimSpace(cp.Job) == "" {
		return nil, fmt.Errorf("checkpoint job is required")
	}
	if cp.Position < 0 {
		return nil, fmt.Errorf("checkpoint position must not be negative, got %d", cp.Position)
	}
	cp.Version = Version

	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a record produced by Encode
func Decode(data []byte) (*Checkpoint, error) {
	line := bytes.TrimSpace(data)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty checkpoint record")
	}
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	var cp Checkpoint
	if err := json.Unmarshal(line, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if cp.Version != Version {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if cp.Job == "" || cp.Position < 0 {
		return nil, fmt.Errorf("invalid checkpoint record for job %q at position %d", cp.Job, cp.Position)
	}
	return &cp, nil
}
