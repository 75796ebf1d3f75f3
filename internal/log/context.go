// SPDX-License-Identifier: MIT

// Package log wraps zerolog with the process-wide logger and the
// correlation fields every watch run carries.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

// correlation is stored in the context by value; each With* call copies it.
type correlation struct {
	runID   string
	videoID string
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

// ContextWithRunID tags ctx with the id of the current watch run.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	c := correlationFrom(ctx)
	c.runID = id
	return context.WithValue(ctx, correlationKey{}, c)
}

// ContextWithVideoID tags ctx with the video a session is playing.
func ContextWithVideoID(ctx context.Context, id string) context.Context {
	c := correlationFrom(ctx)
	c.videoID = id
	return context.WithValue(ctx, correlationKey{}, c)
}

// RunIDFromContext returns the run id or "".
func RunIDFromContext(ctx context.Context) string { return correlationFrom(ctx).runID }

// VideoIDFromContext returns the video id or "".
func VideoIDFromContext(ctx context.Context) string { return correlationFrom(ctx).videoID }

// WithContext adds run_id and video_id to logger when ctx carries them.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	c := correlationFrom(ctx)
	if c == (correlation{}) {
		return logger
	}
	lc := logger.With()
	if c.runID != "" {
		lc = lc.Str(FieldRunID, c.runID)
	}
	if c.videoID != "" {
		lc = lc.Str(FieldVideoID, c.videoID)
	}
	return lc.Logger()
}

// WithComponentFromContext is WithComponent plus the correlation fields.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
