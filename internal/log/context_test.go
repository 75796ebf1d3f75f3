// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestCorrelationIDsAreIndependent(t *testing.T) {
	run := ContextWithRunID(context.Background(), "run-1")
	video := ContextWithVideoID(run, "501")
	other := ContextWithVideoID(run, "502")

	assert.Equal(t, "run-1", RunIDFromContext(video))
	assert.Equal(t, "501", VideoIDFromContext(video))
	assert.Equal(t, "502", VideoIDFromContext(other))
	assert.Empty(t, VideoIDFromContext(run), "parent context is not modified")
	assert.Empty(t, RunIDFromContext(context.Background()))
}

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithVideoID(ContextWithRunID(context.Background(), "run-42"), "1234")

	l := WithContext(ctx, zerolog.New(&buf))
	l.Info().Msg("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "run-42", entry[FieldRunID])
	assert.Equal(t, "1234", entry[FieldVideoID])
}

func TestWithContext_PlainContext(t *testing.T) {
	var buf bytes.Buffer
	l := WithContext(context.Background(), zerolog.New(&buf))
	l.Info().Msg("plain")

	entry := decodeLine(t, &buf)
	assert.NotContains(t, entry, FieldRunID)
	assert.NotContains(t, entry, FieldVideoID)
}

func TestReconfigure_ComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Version: "test"})
	t.Cleanup(func() { Reconfigure(Config{Level: "info"}) })

	l := WithComponentFromContext(ContextWithRunID(context.Background(), "run-7"), "scheduler")
	l.Debug().Msg("dispatch")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "scheduler", entry[FieldComponent])
	assert.Equal(t, "run-7", entry[FieldRunID])
	assert.Equal(t, "vidbeat", entry["service"])
	assert.Equal(t, "test", entry["version"])
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"abc":          "***",
		"abcd":         "***",
		"supersecret1": "***ret1",
	}
	for in, want := range cases {
		assert.Equal(t, want, Mask(in), "Mask(%q)", in)
	}
}
