// SPDX-License-Identifier: MIT

// Package session simulates one viewer watching one video: it resumes from
// the platform's recorded progress, emits the player's lifecycle heartbeats
// at a fixed cadence and reports how the attempt ended.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vidbeat/vidbeat/internal/heartbeat"
	vblog "github.com/vidbeat/vidbeat/internal/log"
	"github.com/vidbeat/vidbeat/internal/metrics"
	"github.com/vidbeat/vidbeat/internal/resilience"
	"github.com/vidbeat/vidbeat/internal/telemetry"
)

// Transport delivers heartbeats and reads recorded progress.
type Transport interface {
	SendHeartbeats(ctx context.Context, target heartbeat.VideoTarget, events []heartbeat.Event) error
	FetchProgress(ctx context.Context, target heartbeat.VideoTarget) (heartbeat.Progress, error)
}

// Option customises a Session.
type Option func(*Session)

// WithObserver receives a snapshot on every state change and playback tick.
// It runs on the session goroutine and must not block.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) { s.observe = fn }
}

// Session is a single-use playback simulation. It is not safe for
// concurrent use; each video gets its own Session.
type Session struct {
	target    heartbeat.VideoTarget
	transport Transport
	cfg       Config
	builder   heartbeat.Builder
	seq       heartbeat.Sequence
	logger    zerolog.Logger
	observe   func(Snapshot)

	state       State
	current     float64
	first       float64
	checks      int
	consecutive int
	result      Result
}

// New prepares a session for target.
func New(target heartbeat.VideoTarget, transport Transport, cfg Config, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		target:    target,
		transport: transport,
		cfg:       cfg,
		builder:   heartbeat.Builder{Target: target, Speed: cfg.Speed, Now: cfg.Now},
		state:     StateStarting,
		logger:    vblog.WithComponent("session"),
		result:    Result{VideoID: target.VideoID, Name: target.Name, Duration: target.Duration},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run plays the video to completion and returns its terminal record.
func Run(ctx context.Context, target heartbeat.VideoTarget, transport Transport, cfg Config, opts ...Option) Result {
	return New(target, transport, cfg, opts...).Run(ctx)
}

// Run drives the state machine. It never panics on transport errors and
// always returns a terminal Result.
func (s *Session) Run(ctx context.Context) Result {
	started := s.cfg.Now()
	ctx = vblog.ContextWithVideoID(ctx, s.target.Key())
	s.logger = vblog.WithContext(ctx, s.logger)

	ctx, span := telemetry.Tracer("vidbeat/session").Start(ctx, "session.play",
		trace.WithAttributes(telemetry.SessionAttributes(s.target.VideoID, s.target.ClassroomID, s.target.Duration, s.cfg.Speed)...))
	defer span.End()

	metrics.SessionStarted()
	s.notify()

	s.play(ctx)

	s.result.Elapsed = s.cfg.Now().Sub(started)
	s.result.EndPosition = s.current
	metrics.SessionEnded(string(s.result.Outcome), s.result.Elapsed.Seconds())

	span.SetAttributes(attribute.Float64(telemetry.StartPosKey, s.result.StartPosition))
	span.SetAttributes(telemetry.OutcomeAttributes(string(s.result.Outcome), s.result.Reason, s.result.EventsSent)...)
	if s.result.Outcome == OutcomeFailed {
		span.SetStatus(codes.Error, s.result.Reason)
		if s.result.Err != nil {
			span.RecordError(s.result.Err)
		}
	}

	ev := s.logger.Info()
	if s.result.Outcome == OutcomeFailed {
		ev = s.logger.Warn().Err(s.result.Err)
	}
	ev.Str(vblog.FieldOutcome, string(s.result.Outcome)).
		Str(vblog.FieldReason, s.result.Reason).
		Int("events_sent", s.result.EventsSent).
		Int("heartbeat_errors", s.result.HeartbeatErrors).
		Dur("elapsed", s.result.Elapsed).
		Msg("session ended")
	return s.result
}

func (s *Session) play(ctx context.Context) {
	if err := s.cfg.Validate(); err != nil {
		s.fail(ReasonInvalidConfig, err, false)
		return
	}
	if err := s.target.Validate(); err != nil {
		s.fail(ReasonInvalidTarget, err, false)
		return
	}

	start, skip, stop := s.resume(ctx)
	if stop {
		return
	}
	if skip {
		s.finish(OutcomeSkipped)
		return
	}

	s.current = start
	s.first = start
	s.result.StartPosition = start

	opening := []heartbeat.EventType{heartbeat.EventLoadStart}
	if start > 0 {
		opening = append(opening, heartbeat.EventSeeking)
	}
	opening = append(opening, heartbeat.EventLoadedData, heartbeat.EventPlay, heartbeat.EventPlaying)
	for _, typ := range opening {
		if !s.emit(ctx, typ) {
			return
		}
	}
	s.transition(StatePlaying)

	var sinceSample time.Duration
	for s.current < s.target.Duration {
		if err := s.cfg.Sleep(ctx, s.cfg.Interval); err != nil {
			s.fail(ReasonCanceled, err, false)
			return
		}
		step := s.cfg.Interval.Seconds() * s.cfg.Speed
		next := math.Min(s.current+step, s.target.Duration)
		metrics.AddSimulatedSeconds(next - s.current)
		s.current = next

		if !s.emit(ctx, s.tickEvent()) {
			return
		}
		s.notify()

		sinceSample += s.cfg.Interval
		if s.cfg.ProgressEvery > 0 && sinceSample >= s.cfg.ProgressEvery {
			sinceSample = 0
			s.sample(ctx)
			if ctx.Err() != nil {
				s.fail(ReasonCanceled, ctx.Err(), false)
				return
			}
		}
	}

	for _, typ := range []heartbeat.EventType{heartbeat.EventVideoEnd, heartbeat.EventPause} {
		if !s.emit(ctx, typ) {
			return
		}
	}

	if p, err := s.transport.FetchProgress(ctx, s.target); err == nil {
		metrics.RecordProgressPoll("final", true)
		s.result.FinalProgress = &p
		s.logger.Info().Float64(vblog.FieldRate, p.Rate).Float64(vblog.FieldPosition, p.LastPoint).Msg("final progress")
	} else {
		metrics.RecordProgressPoll("final", false)
		s.logger.Debug().Err(err).Msg("final progress unavailable")
	}
	s.finish(OutcomeSucceeded)
}

// resume decides where playback starts. skip reports an already completed
// video; stop reports that the session has already failed.
func (s *Session) resume(ctx context.Context) (start float64, skip, stop bool) {
	p, err := s.transport.FetchProgress(ctx, s.target)
	metrics.RecordProgressPoll("resume", err == nil)
	if err != nil {
		if ctx.Err() != nil {
			s.fail(ReasonCanceled, ctx.Err(), false)
			return 0, false, true
		}
		if s.cfg.Fatal(err) {
			s.fail(ReasonAuth, err, true)
			return 0, false, true
		}
		s.logger.Warn().Err(err).Msg("progress unavailable, starting from the beginning")
		s.result.Reason = NoteProgressUnknown
		return 0, false, false
	}

	s.logger.Info().
		Float64(vblog.FieldRate, p.Rate).
		Float64(vblog.FieldPosition, p.LastPoint).
		Msg("recorded progress")

	if s.cfg.SkipCompleted && p.Rate >= s.cfg.CompleteThreshold {
		s.result.Reason = fmt.Sprintf("already completed (rate %.2f)", p.Rate)
		s.result.FinalProgress = &p
		return 0, true, false
	}

	start = math.Max(0, p.LastPoint-s.cfg.Rewind)
	return math.Min(start, s.target.Duration), false, false
}

func (s *Session) tickEvent() heartbeat.EventType {
	total := s.cfg.PlayingWeight + s.cfg.WaitingWeight
	if s.cfg.Rand(total) < s.cfg.WaitingWeight {
		return heartbeat.EventWaiting
	}
	return heartbeat.EventPlaying
}

// sample polls progress for observability; failures change nothing.
func (s *Session) sample(ctx context.Context) {
	s.transition(StateSampling)
	s.checks++
	p, err := s.transport.FetchProgress(ctx, s.target)
	metrics.RecordProgressPoll("sample", err == nil)
	if err != nil {
		s.logger.Debug().Err(err).Int("check", s.checks).Msg("progress sample failed")
	} else {
		s.logger.Info().
			Int("check", s.checks).
			Float64(vblog.FieldRate, p.Rate).
			Float64(vblog.FieldPosition, s.current).
			Float64(vblog.FieldDuration, s.target.Duration).
			Msg("progress sample")
	}
	s.transition(StatePlaying)
}

// emit sends one event as its own batch. It returns false once the session
// has failed.
func (s *Session) emit(ctx context.Context, typ heartbeat.EventType) bool {
	seq := s.seq.Next()
	err := s.deliver(ctx, typ, seq)
	metrics.RecordHeartbeat(string(typ), err == nil)
	if err == nil {
		s.consecutive = 0
		s.result.EventsSent++
		s.logger.Debug().
			Str(vblog.FieldEvent, string(typ)).
			Int64(vblog.FieldSequence, seq).
			Float64(vblog.FieldPosition, s.current).
			Msg("heartbeat sent")
		return true
	}

	if ctx.Err() != nil {
		s.fail(ReasonCanceled, ctx.Err(), false)
		return false
	}
	s.result.HeartbeatErrors++
	s.consecutive++
	s.logger.Warn().Err(err).
		Str(vblog.FieldEvent, string(typ)).
		Int64(vblog.FieldSequence, seq).
		Int("consecutive", s.consecutive).
		Msg("heartbeat failed")

	if s.cfg.Fatal(err) {
		s.fail(ReasonAuth, err, true)
		return false
	}
	if s.cfg.MaxConsecutiveFailures > 0 && s.consecutive >= s.cfg.MaxConsecutiveFailures {
		s.fail(ReasonTransport, fmt.Errorf("%d consecutive heartbeat failures: %w", s.consecutive, err), false)
		return false
	}
	return true
}

// deliver sends one event. While the platform breaker refuses calls the
// event is held and re-sent once the breaker admits traffic again; those
// refusals never reached the platform and do not count as failures.
func (s *Session) deliver(ctx context.Context, typ heartbeat.EventType, seq int64) error {
	for {
		ev := s.builder.Build(typ, s.current, seq, heartbeat.WithFirst(s.first))
		err := s.transport.SendHeartbeats(ctx, s.target, []heartbeat.Event{ev})
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			return err
		}
		wait := s.cfg.Interval
		var open *resilience.OpenError
		if errors.As(err, &open) && open.RetryIn > 0 {
			wait = open.RetryIn
		}
		s.result.HeldForBreaker++
		s.logger.Debug().
			Str(vblog.FieldEvent, string(typ)).
			Int64(vblog.FieldSequence, seq).
			Dur("retry_in", wait).
			Msg("platform breaker open, holding heartbeat")
		if err := s.cfg.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug().
		Str(vblog.FieldOldState, string(s.state)).
		Str(vblog.FieldNewState, string(next)).
		Msg("session state")
	s.state = next
	s.notify()
}

func (s *Session) finish(outcome Outcome) {
	s.result.Outcome = outcome
	s.transition(StateFinished)
}

func (s *Session) fail(code string, err error, fatal bool) {
	s.result.Outcome = OutcomeFailed
	s.result.Err = &Failure{Code: code, Err: err}
	s.result.Reason = s.result.Err.Error()
	s.result.Fatal = fatal
	s.transition(StateFailed)
}

func (s *Session) notify() {
	if s.observe == nil {
		return
	}
	s.observe(Snapshot{
		VideoID:  s.target.VideoID,
		Name:     s.target.Name,
		State:    s.state,
		Position: s.current,
		Duration: s.target.Duration,
		Sequence: s.seq.Current(),
	})
}

// State returns the current state.
func (s *Session) State() State { return s.state }
