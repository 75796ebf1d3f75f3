// SPDX-License-Identifier: MIT

// Package report stores the summary of the last run as a JSON file.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vidbeat/vidbeat/internal/scheduler"
)

// FileName is the report written inside the data directory.
const FileName = "last_run.json"

// Report wraps an aggregate with run metadata.
type Report struct {
	RunID       string    `json:"run_id"`
	Version     string    `json:"version,omitempty"`
	ClassroomID int64     `json:"classroom_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	scheduler.AggregateResult
}

// Path returns the report location for dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Write replaces the report at path. Readers never observe a partial file.
func Write(ctx context.Context, path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return writeAtomic(ctx, path, data)
}

// Read loads a report written by Write.
func Read(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode report %s: %w", path, err)
	}
	return r, nil
}
