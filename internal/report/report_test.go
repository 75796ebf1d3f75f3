// SPDX-License-Identifier: MIT

package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidbeat/vidbeat/internal/scheduler"
	"github.com/vidbeat/vidbeat/internal/session"
)

func TestWriteRead_RoundTripsAggregate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path := Path(dir)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	res := session.Result{VideoID: 1, Outcome: session.OutcomeSucceeded, EventsSent: 12, Duration: 60, EndPosition: 60}
	in := Report{
		RunID:       "run-1",
		ClassroomID: 42,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
		AggregateResult: scheduler.AggregateResult{
			Total:     2,
			Succeeded: 1,
			Failed:    1,
			Videos: []scheduler.VideoOutcome{
				{VideoID: 1, Outcome: session.OutcomeSucceeded, Result: &res, CompletedAt: started.Add(30 * time.Second)},
				{VideoID: 2, Outcome: session.OutcomeFailed, Reason: "invalid_target: duration unknown", CompletedAt: started.Add(time.Second)},
			},
		},
	}

	require.NoError(t, Write(context.Background(), path, in))

	out, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, in.Succeeded+in.Skipped+in.Failed, out.Succeeded+out.Skipped+out.Failed)
	require.Len(t, out.Videos, 2)
	assert.Equal(t, "invalid_target: duration unknown", out.Videos[1].Reason)
	require.NotNil(t, out.Videos[0].Result)
	assert.Equal(t, 12, out.Videos[0].Result.EventsSent)

	// Aggregate fields are inlined at the top level.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"succeeded": 1`)
}

func TestWrite_ReplacesExistingReport(t *testing.T) {
	path := Path(t.TempDir())
	require.NoError(t, Write(context.Background(), path, Report{RunID: "old"}))
	require.NoError(t, Write(context.Background(), path, Report{RunID: "new"}))

	out, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "new", out.RunID)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), FileName))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
