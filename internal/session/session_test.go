// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidbeat/vidbeat/internal/heartbeat"
	"github.com/vidbeat/vidbeat/internal/lms"
	"github.com/vidbeat/vidbeat/internal/resilience"
)

var errFlaky = errors.New("flaky upstream")

type fakeTransport struct {
	mu sync.Mutex

	progress    []heartbeat.Progress
	progressErr []error
	polls       int

	// sendErr returns the error for the n-th send (1-based), or nil.
	sendErr func(n int) error
	sends   int
	events  []heartbeat.Event
}

func (f *fakeTransport) SendHeartbeats(_ context.Context, _ heartbeat.VideoTarget, events []heartbeat.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sendErr != nil {
		if err := f.sendErr(f.sends); err != nil {
			return err
		}
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeTransport) FetchProgress(_ context.Context, _ heartbeat.VideoTarget) (heartbeat.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i < len(f.progressErr) && f.progressErr[i] != nil {
		return heartbeat.Progress{}, f.progressErr[i]
	}
	if i < len(f.progress) {
		return f.progress[i], nil
	}
	if len(f.progress) > 0 {
		return f.progress[len(f.progress)-1], nil
	}
	return heartbeat.Progress{}, nil
}

type step struct {
	Type    heartbeat.EventType
	Current float64
	First   float64
	Seq     int64
}

func steps(events []heartbeat.Event) []step {
	out := make([]step, 0, len(events))
	for _, e := range events {
		out = append(out, step{Type: e.Type, Current: e.Current, First: e.First, Seq: e.Sequence})
	}
	return out
}

func testTarget(duration float64) heartbeat.VideoTarget {
	return heartbeat.VideoTarget{
		VideoID:       501,
		CourseID:      11,
		SKUID:         22,
		ClassroomID:   33,
		ContentID:     "cc-501",
		UserID:        44,
		UniversityID:  77,
		CSRFToken:     "tok",
		SessionViewID: 77,
		Duration:      duration,
		Name:          "Intro",
	}
}

// testConfig runs instantly, always picks "playing" and records sleeps.
func testConfig(sleeps *[]time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Speed = 1
	cfg.Interval = 5 * time.Second
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return ctx.Err()
	}
	cfg.Rand = func(n int) int { return n - 1 }
	return cfg
}

func TestRun_FullPlaybackFromZero(t *testing.T) {
	tr := &fakeTransport{}
	var sleeps []time.Duration

	res := Run(context.Background(), testTarget(20), tr, testConfig(&sleeps))

	require.Equal(t, OutcomeSucceeded, res.Outcome, res.Reason)
	want := []step{
		{heartbeat.EventLoadStart, 0, 0, 1},
		{heartbeat.EventLoadedData, 0, 0, 2},
		{heartbeat.EventPlay, 0, 0, 3},
		{heartbeat.EventPlaying, 0, 0, 4},
		{heartbeat.EventPlaying, 5, 0, 5},
		{heartbeat.EventPlaying, 10, 0, 6},
		{heartbeat.EventPlaying, 15, 0, 7},
		{heartbeat.EventPlaying, 20, 0, 8},
		{heartbeat.EventVideoEnd, 20, 0, 9},
		{heartbeat.EventPause, 20, 0, 10},
	}
	if diff := cmp.Diff(want, steps(tr.events)); diff != "" {
		t.Fatalf("event sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}, sleeps)
	assert.Equal(t, 10, res.EventsSent)
	assert.Equal(t, 0.0, res.StartPosition)
	assert.Equal(t, 20.0, res.EndPosition)
	require.NotNil(t, res.FinalProgress)
	assert.Equal(t, 2, tr.polls, "resume poll and final poll")
}

func TestRun_TrueEqualsCurrent(t *testing.T) {
	tr := &fakeTransport{progress: []heartbeat.Progress{{Rate: 0.3, LastPoint: 45}}}

	res := Run(context.Background(), testTarget(50), tr, testConfig(nil))
	require.Equal(t, OutcomeSucceeded, res.Outcome)
	for _, e := range tr.events {
		assert.Equal(t, e.Current, e.True)
		assert.Equal(t, 35.0, e.First)
	}
}

func TestRun_ResumeRewindsAndSeeks(t *testing.T) {
	tr := &fakeTransport{progress: []heartbeat.Progress{{Rate: 0.4, LastPoint: 45}}}

	res := Run(context.Background(), testTarget(50), tr, testConfig(nil))

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 35.0, res.StartPosition)
	want := []step{
		{heartbeat.EventLoadStart, 35, 35, 1},
		{heartbeat.EventSeeking, 35, 35, 2},
		{heartbeat.EventLoadedData, 35, 35, 3},
		{heartbeat.EventPlay, 35, 35, 4},
		{heartbeat.EventPlaying, 35, 35, 5},
		{heartbeat.EventPlaying, 40, 35, 6},
		{heartbeat.EventPlaying, 45, 35, 7},
		{heartbeat.EventPlaying, 50, 35, 8},
		{heartbeat.EventVideoEnd, 50, 35, 9},
		{heartbeat.EventPause, 50, 35, 10},
	}
	if diff := cmp.Diff(want, steps(tr.events)); diff != "" {
		t.Fatalf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ShortLastPointStartsAtZero(t *testing.T) {
	tr := &fakeTransport{progress: []heartbeat.Progress{{Rate: 0.01, LastPoint: 3}}}

	res := Run(context.Background(), testTarget(10), tr, testConfig(nil))

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 0.0, res.StartPosition)
	require.NotEmpty(t, tr.events)
	assert.Equal(t, heartbeat.EventLoadedData, tr.events[1].Type, "no seeking event from position zero")
}

func TestRun_SkipsCompletedVideo(t *testing.T) {
	tr := &fakeTransport{progress: []heartbeat.Progress{{Rate: 0.95, LastPoint: 100}}}

	res := Run(context.Background(), testTarget(100), tr, testConfig(nil))

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Reason, "already completed")
	assert.Empty(t, tr.events)
	assert.Zero(t, tr.sends)
}

func TestRun_ThresholdIsInclusive(t *testing.T) {
	tr := &fakeTransport{progress: []heartbeat.Progress{{Rate: 0.9, LastPoint: 90}}}

	res := Run(context.Background(), testTarget(100), tr, testConfig(nil))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestRun_CompletedVideoReplayedWhenSkipDisabled(t *testing.T) {
	tr := &fakeTransport{progress: []heartbeat.Progress{{Rate: 1, LastPoint: 100}}}
	cfg := testConfig(nil)
	cfg.SkipCompleted = false

	res := Run(context.Background(), testTarget(100), tr, cfg)
	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 90.0, res.StartPosition)
}

func TestRun_ProgressFailureStartsFromZero(t *testing.T) {
	tr := &fakeTransport{progressErr: []error{errFlaky}}

	res := Run(context.Background(), testTarget(10), tr, testConfig(nil))

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, NoteProgressUnknown, res.Reason)
	assert.Equal(t, 0.0, res.StartPosition)
}

func TestRun_InvalidDurationFailsBeforeAnyEvent(t *testing.T) {
	for _, d := range []float64{0, -5} {
		tr := &fakeTransport{}
		res := Run(context.Background(), testTarget(d), tr, testConfig(nil))

		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Contains(t, res.Reason, ReasonInvalidTarget)
		assert.ErrorIs(t, res.Err, heartbeat.ErrInvalidTarget)
		assert.Zero(t, tr.sends)
		assert.Zero(t, tr.polls)
		assert.False(t, res.Fatal)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Speed = 0
	tr := &fakeTransport{}

	res := Run(context.Background(), testTarget(10), tr, cfg)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrInvalidConfig)
	assert.Zero(t, tr.sends)
}

func TestRun_SingleHeartbeatFailureIsTolerated(t *testing.T) {
	tr := &fakeTransport{sendErr: func(n int) error {
		if n == 6 {
			return errFlaky
		}
		return nil
	}}

	res := Run(context.Background(), testTarget(20), tr, testConfig(nil))

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 1, res.HeartbeatErrors)
	assert.Equal(t, 9, res.EventsSent)

	// the failed event consumed sequence 6; numbering stays strictly increasing
	var seqs []int64
	for _, e := range tr.events {
		seqs = append(seqs, e.Sequence)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 7, 8, 9, 10}, seqs)
	assert.Equal(t, 20.0, tr.events[len(tr.events)-1].Current)
}

func TestRun_ConsecutiveFailuresEndSession(t *testing.T) {
	tr := &fakeTransport{sendErr: func(n int) error {
		if n >= 5 {
			return errFlaky
		}
		return nil
	}}

	res := Run(context.Background(), testTarget(100), tr, testConfig(nil))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, ReasonTransport)
	assert.ErrorIs(t, res.Err, errFlaky)
	assert.Equal(t, DefaultMaxConsecutiveFailures, res.HeartbeatErrors)
	assert.False(t, res.Fatal)
}

func TestRun_AuthErrorIsFatal(t *testing.T) {
	tr := &fakeTransport{sendErr: func(n int) error {
		return &lms.APIError{Sentinel: lms.ErrForbidden, Operation: "heartbeat", Status: 403}
	}}

	res := Run(context.Background(), testTarget(100), tr, testConfig(nil))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Fatal)
	assert.Contains(t, res.Reason, ReasonAuth)
	assert.Equal(t, 1, tr.sends)
}

func TestRun_AuthErrorOnResumeIsFatal(t *testing.T) {
	tr := &fakeTransport{progressErr: []error{&lms.APIError{Sentinel: lms.ErrForbidden, Operation: "progress", Status: 401}}}

	res := Run(context.Background(), testTarget(100), tr, testConfig(nil))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Fatal)
	assert.Zero(t, tr.sends)
}

func breakerOpen(retryIn time.Duration) error {
	return &lms.APIError{
		Sentinel:  lms.ErrUpstreamUnavailable,
		Operation: "heartbeat",
		Err:       &resilience.OpenError{Name: "lms", RetryIn: retryIn},
	}
}

func TestRun_OpenBreakerHoldsHeartbeat(t *testing.T) {
	// sends 2..6 are refused by the shared breaker before reaching the platform
	tr := &fakeTransport{sendErr: func(n int) error {
		switch {
		case n >= 2 && n <= 4:
			return breakerOpen(30 * time.Second)
		case n >= 5 && n <= 6:
			return breakerOpen(0)
		}
		return nil
	}}
	var sleeps []time.Duration

	res := Run(context.Background(), testTarget(10), tr, testConfig(&sleeps))

	require.Equal(t, OutcomeSucceeded, res.Outcome, res.Reason)
	assert.Zero(t, res.HeartbeatErrors)
	assert.Equal(t, 5, res.HeldForBreaker)
	assert.Equal(t, []time.Duration{
		30 * time.Second, 30 * time.Second, 30 * time.Second,
		5 * time.Second, 5 * time.Second,
		5 * time.Second, 5 * time.Second,
	}, sleeps, "held for the breaker's retry hint, then the tick interval while a trial call is out")

	want := []step{
		{heartbeat.EventLoadStart, 0, 0, 1},
		{heartbeat.EventLoadedData, 0, 0, 2},
		{heartbeat.EventPlay, 0, 0, 3},
		{heartbeat.EventPlaying, 0, 0, 4},
		{heartbeat.EventPlaying, 5, 0, 5},
		{heartbeat.EventPlaying, 10, 0, 6},
		{heartbeat.EventVideoEnd, 10, 0, 7},
		{heartbeat.EventPause, 10, 0, 8},
	}
	if diff := cmp.Diff(want, steps(tr.events)); diff != "" {
		t.Fatalf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_OpenBreakerHoldEndsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &fakeTransport{sendErr: func(int) error { return breakerOpen(time.Minute) }}
	cfg := testConfig(nil)
	holds := 0
	cfg.Sleep = func(ctx context.Context, _ time.Duration) error {
		holds++
		if holds == 10 {
			cancel()
		}
		return ctx.Err()
	}

	res := Run(ctx, testTarget(100), tr, cfg)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, ReasonCanceled)
	assert.Zero(t, res.HeartbeatErrors)
	assert.Equal(t, 10, res.HeldForBreaker)
	assert.Empty(t, tr.events)
}

// stateTransport records the session state seen by every send.
type stateTransport struct {
	*fakeTransport
	state  func() State
	states []State
}

func (s *stateTransport) SendHeartbeats(ctx context.Context, target heartbeat.VideoTarget, events []heartbeat.Event) error {
	s.states = append(s.states, s.state())
	return s.fakeTransport.SendHeartbeats(ctx, target, events)
}

func TestRun_OpeningEventsSentWhileStarting(t *testing.T) {
	for _, tc := range []struct {
		name     string
		progress heartbeat.Progress
		opening  int
	}{
		{"from zero", heartbeat.Progress{}, 4},
		{"resumed", heartbeat.Progress{Rate: 0.2, LastPoint: 15}, 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := &stateTransport{fakeTransport: &fakeTransport{progress: []heartbeat.Progress{tc.progress}}}
			var observed []State
			sess := New(testTarget(20), tr, testConfig(nil), WithObserver(func(s Snapshot) {
				observed = append(observed, s.State)
			}))
			tr.state = sess.State

			res := sess.Run(context.Background())
			require.Equal(t, OutcomeSucceeded, res.Outcome, res.Reason)

			require.Greater(t, len(tr.states), tc.opening)
			for i, st := range tr.states {
				want := StatePlaying
				if i < tc.opening {
					want = StateStarting
				}
				assert.Equal(t, want, st, "send %d (%s)", i+1, tr.events[i].Type)
			}
			require.GreaterOrEqual(t, len(observed), 2)
			assert.Equal(t, StateStarting, observed[0])
			assert.Equal(t, StatePlaying, observed[1])
		})
	}
}

func TestRun_CancelMidLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &fakeTransport{}
	cfg := testConfig(nil)
	ticks := 0
	cfg.Sleep = func(ctx context.Context, _ time.Duration) error {
		ticks++
		if ticks == 3 {
			cancel()
		}
		return ctx.Err()
	}

	res := Run(ctx, testTarget(100), tr, cfg)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, ReasonCanceled)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 10.0, res.EndPosition)
}

func TestRun_SamplesProgressEveryThirtySeconds(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig(nil)
	var states []State
	// 100s at 5s ticks = 20 ticks, one sample every 6 ticks
	res := Run(context.Background(), testTarget(100), tr, cfg, WithObserver(func(s Snapshot) {
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	}))

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 1+3+1, tr.polls, "resume, three samples, final")
	assert.Equal(t, []State{
		StateStarting, StatePlaying,
		StateSampling, StatePlaying,
		StateSampling, StatePlaying,
		StateSampling, StatePlaying,
		StateFinished,
	}, states)
}

func TestRun_SampleFailureChangesNothing(t *testing.T) {
	tr := &fakeTransport{progressErr: []error{nil, errFlaky, errFlaky, errFlaky}}

	res := Run(context.Background(), testTarget(100), tr, testConfig(nil))
	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 26, res.EventsSent)
}

func TestRun_SpeedScalesAdvance(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig(nil)
	cfg.Speed = 1.5

	res := Run(context.Background(), testTarget(20), tr, cfg)
	require.Equal(t, OutcomeSucceeded, res.Outcome)

	var positions []float64
	for _, e := range tr.events {
		if e.Type == heartbeat.EventPlaying && e.Current > 0 {
			positions = append(positions, e.Current)
		}
	}
	assert.Equal(t, []float64{7.5, 15, 20}, positions, "last step clamps to duration")
	for _, e := range tr.events {
		assert.Equal(t, 1.5, e.Speed)
	}
}

func TestRun_WaitingEventsFollowWeights(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig(nil)
	i := 0
	// weights 3:1 => draws in [0,4); 0 selects waiting
	cfg.Rand = func(n int) int {
		require.Equal(t, 4, n)
		i++
		if i%2 == 0 {
			return 0
		}
		return 3
	}

	res := Run(context.Background(), testTarget(20), tr, cfg)
	require.Equal(t, OutcomeSucceeded, res.Outcome)

	var ticks []heartbeat.EventType
	for _, e := range tr.events[4:8] {
		ticks = append(ticks, e.Type)
	}
	assert.Equal(t, []heartbeat.EventType{
		heartbeat.EventPlaying, heartbeat.EventWaiting, heartbeat.EventPlaying, heartbeat.EventWaiting,
	}, ticks)
}
