// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidbeat/vidbeat/internal/config"
	"github.com/vidbeat/vidbeat/internal/heartbeat"
	"github.com/vidbeat/vidbeat/internal/ledger"
	"github.com/vidbeat/vidbeat/internal/lms"
	"github.com/vidbeat/vidbeat/internal/report"
	"github.com/vidbeat/vidbeat/internal/session"
	"github.com/vidbeat/vidbeat/internal/validate"
)

const testCSRF = "csrf-secret-value"

// platformEnv starts a mock platform with n short videos and points the
// environment at it. It returns the mock and the data directory.
func platformEnv(t *testing.T, n int) (*lms.MockServer, string) {
	t.Helper()
	mock := lms.NewMockServer()
	t.Cleanup(mock.Close)
	for i := range n {
		id := int64(501 + i)
		mock.AddVideo(lms.MockVideo{
			LeafID:        id,
			Name:          fmt.Sprintf("Lecture %d", i+1),
			Chapter:       "Week 1",
			CourseID:      11,
			SKUID:         22,
			UserID:        44,
			ContentID:     fmt.Sprintf("cc-%d", id),
			MediaDuration: 2,
		})
	}

	dataDir := t.TempDir()
	for k, v := range map[string]string{
		"CONFIG":             "",
		"BASE_URL":           mock.URL,
		"CLASSROOM_ID":       "7001",
		"UNIVERSITY_ID":      "3",
		"CSRF_TOKEN":         testCSRF,
		"SESSION_ID":         "session-secret-value",
		"SPEED":              "16",
		"HEARTBEAT_INTERVAL": "100ms",
		"DISPATCH_DELAY":     "0",
		"REQUEST_RATE":       "0",
		"DATA_DIR":           dataDir,
		"LOG_LEVEL":          "error",
	} {
		t.Setenv(config.EnvPrefix+k, v)
	}
	return mock, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

func TestRun_PlaysEveryVideoAndRecordsHistory(t *testing.T) {
	mock, dataDir := platformEnv(t, 2)

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "2 videos in classroom 7001")
	assert.Contains(t, out, "done: 2 total, 2 succeeded, 0 skipped, 0 failed")

	for _, id := range []int64{501, 502} {
		events := mock.Events(id)
		require.NotEmpty(t, events, "video %d", id)
		assert.Equal(t, heartbeat.EventLoadStart, events[0].Type)
		assert.Equal(t, heartbeat.EventPause, events[len(events)-1].Type)
	}

	rep, err := report.Read(report.Path(dataDir))
	require.NoError(t, err)
	assert.Equal(t, int64(7001), rep.ClassroomID)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Empty(t, rep.Halted)

	out, err = execute(t, "history", "--json")
	require.NoError(t, err)
	var entries []ledger.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, rep.RunID, e.RunID)
		assert.Equal(t, string(session.OutcomeSucceeded), e.Outcome)
		assert.InDelta(t, 2.0, e.EndPosition, 1e-9)
	}

	out, err = execute(t, "history", "verify")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, err = execute(t, "history", "last")
	require.NoError(t, err)
	assert.Contains(t, out, rep.RunID)
}

func TestRun_TestModeLimitsVideos(t *testing.T) {
	mock, _ := platformEnv(t, 3)

	out, err := execute(t, "run", "--test", "--test-count", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 videos in classroom")
	assert.Contains(t, out, "done: 1 total, 1 succeeded")
	assert.NotEmpty(t, mock.Events(501))
	assert.Empty(t, mock.Events(502))
	assert.Empty(t, mock.Events(503))
}

func TestRun_SkipsCompletedVideos(t *testing.T) {
	mock, _ := platformEnv(t, 2)
	mock.SetProgress(501, heartbeat.Progress{Rate: 1, LastPoint: 2})

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 succeeded, 1 skipped, 0 failed")
	assert.Empty(t, mock.Events(501))
}

func TestRun_AuthFailureHaltsRun(t *testing.T) {
	mock, dataDir := platformEnv(t, 3)
	mock.SetFailures(lms.EndpointHeartbeat, -1, 403)

	out, err := execute(t, "run", "--max-parallel", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run halted")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "3 failed")
	assert.Contains(t, out, "not dispatched")

	rep, err := report.Read(report.Path(dataDir))
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Halted)
	assert.Equal(t, 3, rep.Failed)
}

func TestRun_FlagsOverrideInvalidEnvironment(t *testing.T) {
	platformEnv(t, 1)
	t.Setenv(config.EnvPrefix+"SPEED", "100")

	_, err := execute(t, "config", "validate")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	out, err := execute(t, "run", "--speed", "16")
	require.NoError(t, err)
	assert.Contains(t, out, "1 succeeded")
}

func TestList_PrintsTable(t *testing.T) {
	platformEnv(t, 2)

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "CHAPTER")
	assert.Contains(t, out, "Lecture 1")
	assert.Contains(t, out, "Lecture 2")
	assert.Contains(t, out, "2 videos")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	platformEnv(t, 0)

	for _, format := range []string{"yaml", "json"} {
		t.Run(format, func(t *testing.T) {
			out, err := execute(t, "config", "show", "-o", format)
			require.NoError(t, err)
			assert.NotContains(t, out, testCSRF)
			assert.NotContains(t, out, "session-secret-value")
			assert.Contains(t, out, "7001")
		})
	}

	_, err := execute(t, "config", "show", "-o", "toml")
	require.Error(t, err)
}

func TestConfigValidate_MissingCredentials(t *testing.T) {
	platformEnv(t, 0)
	t.Setenv(config.EnvPrefix+"CSRF_TOKEN", "")
	t.Setenv(config.EnvPrefix+"SESSION_ID", "")

	_, err := execute(t, "config", "validate")
	require.Error(t, err)

	var verr validate.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields(), "CSRFToken")
	assert.Contains(t, verr.Fields(), "SessionID")
	assert.Equal(t, 2, exitCode(err))
}

func TestConfigValidate_File(t *testing.T) {
	platformEnv(t, 0)
	path := filepath.Join(t.TempDir(), "vidbeat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classroomID: 9\nplayback:\n  speed: 2\n"), 0o600))

	out, err := execute(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Equal(t, path+" is valid\n", out)
}

func TestHistory_RequiresDataDir(t *testing.T) {
	platformEnv(t, 0)
	t.Setenv(config.EnvPrefix+"DATA_DIR", "")

	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data directory")
}

func TestHistoryLast_NoReport(t *testing.T) {
	platformEnv(t, 0)

	_, err := execute(t, "history", "last")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run report")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "vidbeat dev"), out)
}

func TestExitCode(t *testing.T) {
	verr := validate.New()
	verr.AddError("Speed", "too fast", 100)

	assert.Equal(t, 2, exitCode(fmt.Errorf("config: %w", verr.Err())))
	assert.Equal(t, 3, exitCode(fmt.Errorf("%w: 1 of 2 videos failed", errRunIncomplete)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}
