// SPDX-License-Identifier: MIT

package session

import (
	"time"

	"github.com/vidbeat/vidbeat/internal/heartbeat"
)

// State is the lifecycle position of a playback session.
type State string

const (
	StateStarting State = "starting"
	StatePlaying  State = "playing"
	StateSampling State = "sampling_progress"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Outcome is the per-video verdict.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Failure reason codes.
const (
	ReasonInvalidTarget = "invalid_target"
	ReasonInvalidConfig = "invalid_config"
	ReasonResolve       = "resolve"
	ReasonTransport     = "transport"
	ReasonAuth          = "auth"
	ReasonCanceled      = "canceled"
	ReasonPanic         = "panic"
)

// NoteProgressUnknown marks a session that could not read its resume point.
const NoteProgressUnknown = "progress unknown"

// Failure is the error attached to a failed Result.
type Failure struct {
	Code string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Code
	}
	return f.Code + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is the terminal record of one session.
type Result struct {
	VideoID int64   `json:"video_id"`
	Name    string  `json:"name,omitempty"`
	Outcome Outcome `json:"outcome"`
	// Reason explains a skip or failure, or carries a note on success.
	Reason string `json:"reason,omitempty"`

	StartPosition   float64             `json:"start_position"`
	EndPosition     float64             `json:"end_position"`
	Duration        float64             `json:"duration"`
	EventsSent      int                 `json:"events_sent"`
	HeartbeatErrors int                 `json:"heartbeat_errors"`
	HeldForBreaker  int                 `json:"held_for_breaker,omitempty"`
	FinalProgress   *heartbeat.Progress `json:"final_progress,omitempty"`
	Elapsed         time.Duration       `json:"elapsed"`

	// Err is set for failed outcomes.
	Err error `json:"-"`
	// Fatal asks the scheduler to stop dispatching further videos.
	Fatal bool `json:"fatal,omitempty"`
}

// Snapshot is a point-in-time view of a running session.
type Snapshot struct {
	VideoID  int64   `json:"video_id"`
	Name     string  `json:"name,omitempty"`
	State    State   `json:"state"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Sequence int64   `json:"sequence"`
}
