// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/vidbeat/vidbeat/internal/lms"
)

// Defaults mirror the web player's cadence.
const (
	DefaultSpeed                  = 1.5
	DefaultInterval               = 5 * time.Second
	DefaultProgressEvery          = 30 * time.Second
	DefaultCompleteThreshold      = 0.9
	DefaultRewind                 = 10.0
	DefaultPlayingWeight          = 3
	DefaultWaitingWeight          = 1
	DefaultMaxConsecutiveFailures = 3
)

// Config controls pacing and resume behaviour of a session.
type Config struct {
	Speed         float64
	Interval      time.Duration
	ProgressEvery time.Duration

	// SkipCompleted skips videos whose recorded rate reaches CompleteThreshold.
	SkipCompleted     bool
	CompleteThreshold float64

	// Rewind is how many seconds before the last recorded point playback resumes.
	Rewind float64

	// Relative odds of a playing versus waiting event per tick.
	PlayingWeight int
	WaitingWeight int

	// MaxConsecutiveFailures ends the session after that many heartbeat
	// sends fail in a row. Zero means never.
	MaxConsecutiveFailures int

	// Sleep waits between ticks; it must return ctx.Err() when canceled.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0,n).
	Rand func(n int) int
	Now  func() time.Time

	// Fatal reports errors that must stop the whole run, not just this video.
	Fatal func(error) bool
}

// DefaultConfig returns the standard pacing.
func DefaultConfig() Config {
	return Config{
		Speed:                  DefaultSpeed,
		Interval:               DefaultInterval,
		ProgressEvery:          DefaultProgressEvery,
		SkipCompleted:          true,
		CompleteThreshold:      DefaultCompleteThreshold,
		Rewind:                 DefaultRewind,
		PlayingWeight:          DefaultPlayingWeight,
		WaitingWeight:          DefaultWaitingWeight,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("session: invalid config")

// Validate checks the pacing parameters.
func (c Config) Validate() error {
	var errs []error
	if !(c.Speed > 0) {
		errs = append(errs, fmt.Errorf("speed must be positive, got %v", c.Speed))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("progress interval must not be negative, got %v", c.ProgressEvery))
	}
	if c.CompleteThreshold < 0 || c.CompleteThreshold > 1 {
		errs = append(errs, fmt.Errorf("complete threshold must be within [0,1], got %v", c.CompleteThreshold))
	}
	if c.Rewind < 0 {
		errs = append(errs, fmt.Errorf("rewind must not be negative, got %v", c.Rewind))
	}
	if c.PlayingWeight < 0 || c.WaitingWeight < 0 || c.PlayingWeight+c.WaitingWeight == 0 {
		errs = append(errs, fmt.Errorf("event weights must be non-negative with a positive sum, got %d:%d", c.PlayingWeight, c.WaitingWeight))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Rand == nil {
		c.Rand = rand.IntN
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Fatal == nil {
		c.Fatal = lms.IsAuth
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
