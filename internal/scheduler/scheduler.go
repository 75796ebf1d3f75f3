// SPDX-License-Identifier: MIT

// Package scheduler runs playback sessions for many videos with bounded
// parallelism and aggregates their outcomes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vidbeat/vidbeat/internal/heartbeat"
	"github.com/vidbeat/vidbeat/internal/lms"
	vblog "github.com/vidbeat/vidbeat/internal/log"
	"github.com/vidbeat/vidbeat/internal/session"
	"github.com/vidbeat/vidbeat/internal/telemetry"
)

// DefaultMaxParallel is used when Options.MaxParallel is not positive.
const DefaultMaxParallel = 3

// Job is one video to play. Resolve runs inside the worker slot, so a
// failing lookup only fails this video.
type Job struct {
	ID      int64
	Name    string
	Resolve func(ctx context.Context) (heartbeat.VideoTarget, error)
}

// PlayFunc runs one session to a terminal result.
type PlayFunc func(ctx context.Context, target heartbeat.VideoTarget, opts ...session.Option) session.Result

// Options configures a run.
type Options struct {
	MaxParallel int

	// DispatchDelay spaces out session starts.
	DispatchDelay time.Duration

	Transport session.Transport
	Session   session.Config

	// Play overrides how a session is run. Defaults to session.Run with
	// Transport and Session.
	Play PlayFunc

	// HaltOn decides whether an outcome stops further dispatch. The
	// returned error becomes the cause. Defaults to halting on fatal results.
	HaltOn func(session.Result) error

	// OnOutcome is called once per video as it completes. It may be called
	// from several goroutines at once.
	OnOutcome func(VideoOutcome)

	// Status receives live progress when set.
	Status *Status
}

// VideoOutcome is the per-video entry of an AggregateResult.
type VideoOutcome struct {
	VideoID     int64           `json:"video_id"`
	Name        string          `json:"name,omitempty"`
	Outcome     session.Outcome `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	Result      *session.Result `json:"result,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// AggregateResult summarises a run. Videos is in completion order and
// Succeeded+Skipped+Failed always equals Total.
type AggregateResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Videos    []VideoOutcome `json:"videos"`
	Halted    string         `json:"halted,omitempty"`
}

// Run plays already resolved targets.
func Run(ctx context.Context, targets []heartbeat.VideoTarget, opts Options) AggregateResult {
	jobs := make([]Job, 0, len(targets))
	for _, t := range targets {
		jobs = append(jobs, Job{
			ID:      t.VideoID,
			Name:    t.Name,
			Resolve: func(context.Context) (heartbeat.VideoTarget, error) { return t, nil },
		})
	}
	return RunJobs(ctx, jobs, opts)
}

// RunJobs resolves and plays each job with at most MaxParallel sessions in
// flight. It returns once every job has a terminal outcome.
func RunJobs(ctx context.Context, jobs []Job, opts Options) AggregateResult {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Play == nil {
		transport, cfg := opts.Transport, opts.Session
		opts.Play = func(ctx context.Context, t heartbeat.VideoTarget, so ...session.Option) session.Result {
			return session.Run(ctx, t, transport, cfg, so...)
		}
	}
	if opts.HaltOn == nil {
		opts.HaltOn = haltOnFatal
	}

	logger := vblog.WithComponentFromContext(ctx, "scheduler")
	ctx, span := telemetry.Tracer("vidbeat/scheduler").Start(ctx, "scheduler.run",
		trace.WithAttributes(
			attribute.Int(telemetry.TotalKey, len(jobs)),
			attribute.Int(telemetry.MaxParallelKey, opts.MaxParallel),
			attribute.String(telemetry.RunIDKey, vblog.RunIDFromContext(ctx)),
		))
	defer span.End()

	if opts.Status != nil {
		opts.Status.begin(len(jobs))
		defer opts.Status.finish()
	}

	r := &run{opts: opts, results: make(chan VideoOutcome, len(jobs))}

	var limiter *rate.Limiter
	if opts.DispatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.DispatchDelay), 1)
	}

	logger.Info().
		Int("total", len(jobs)).
		Int("max_parallel", opts.MaxParallel).
		Dur("dispatch_delay", opts.DispatchDelay).
		Msg("run started")

	var g errgroup.Group
	g.SetLimit(opts.MaxParallel)

	for i, job := range jobs {
		if cause := r.haltCause(ctx); cause != nil {
			for _, rest := range jobs[i:] {
				r.notDispatched(rest, cause)
			}
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				for _, rest := range jobs[i:] {
					r.notDispatched(rest, err)
				}
				break
			}
		}
		g.Go(func() error {
			// The slot may have been granted after a halt.
			if cause := r.haltCause(ctx); cause != nil {
				r.notDispatched(job, cause)
				return nil
			}
			r.play(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	close(r.results)

	agg := AggregateResult{Total: len(jobs)}
	for o := range r.results {
		agg.Videos = append(agg.Videos, o)
		switch o.Outcome {
		case session.OutcomeSucceeded:
			agg.Succeeded++
		case session.OutcomeSkipped:
			agg.Skipped++
		default:
			agg.Failed++
		}
	}
	if cause := r.haltErr(); cause != nil {
		agg.Halted = cause.Error()
	}

	span.SetAttributes(
		attribute.Int("vidbeat.succeeded", agg.Succeeded),
		attribute.Int("vidbeat.skipped", agg.Skipped),
		attribute.Int("vidbeat.failed", agg.Failed),
	)
	logger.Info().
		Int("total", agg.Total).
		Int("succeeded", agg.Succeeded).
		Int("skipped", agg.Skipped).
		Int("failed", agg.Failed).
		Str("halted", agg.Halted).
		Msg("run finished")
	return agg
}

type run struct {
	opts    Options
	results chan VideoOutcome

	mu   sync.Mutex
	halt error
}

func (r *run) haltCause(ctx context.Context) error {
	if err := r.haltErr(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *run) haltErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halt
}

func (r *run) setHalt(cause error) {
	r.mu.Lock()
	first := r.halt == nil
	if first {
		r.halt = cause
	}
	r.mu.Unlock()
	if first && r.opts.Status != nil {
		r.opts.Status.halted(cause.Error())
	}
}

func (r *run) notDispatched(job Job, cause error) {
	r.record(VideoOutcome{
		VideoID: job.ID,
		Name:    job.Name,
		Outcome: session.OutcomeFailed,
		Reason:  "not dispatched: " + cause.Error(),
	})
}

func (r *run) record(o VideoOutcome) {
	o.CompletedAt = time.Now()
	r.results <- o
	if r.opts.Status != nil {
		r.opts.Status.complete(o)
	}
	if r.opts.OnOutcome != nil {
		r.opts.OnOutcome(o)
	}
}

// play runs one job and records exactly one outcome, whatever happens.
func (r *run) play(ctx context.Context, job Job) {
	ctx = vblog.ContextWithVideoID(ctx, strconv.FormatInt(job.ID, 10))
	logger := vblog.WithComponentFromContext(ctx, "scheduler")

	recorded := false
	defer func() {
		if p := recover(); p != nil {
			logger.Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("session panicked")
			if !recorded {
				r.record(VideoOutcome{
					VideoID: job.ID,
					Name:    job.Name,
					Outcome: session.OutcomeFailed,
					Reason:  fmt.Sprintf("%s: %v", session.ReasonPanic, p),
				})
			}
		}
	}()

	target, err := job.Resolve(ctx)
	if err != nil {
		reason := session.ReasonResolve + ": " + err.Error()
		if ctx.Err() != nil {
			reason = session.ReasonCanceled + ": " + ctx.Err().Error()
		}
		logger.Warn().Err(err).Msg("video could not be resolved")
		recorded = true
		r.record(VideoOutcome{VideoID: job.ID, Name: job.Name, Outcome: session.OutcomeFailed, Reason: reason})
		if lms.IsAuth(err) {
			r.setHalt(fmt.Errorf("platform refused credentials: %w", err))
		}
		return
	}
	if target.Name == "" {
		target.Name = job.Name
	}

	var observe func(session.Snapshot)
	if r.opts.Status != nil {
		observe = r.opts.Status.observe
	}
	res := r.opts.Play(ctx, target, session.WithObserver(observeFunc(observe)))

	if res.Outcome == "" {
		res.Outcome = session.OutcomeFailed
		res.Reason = "session ended without an outcome"
	}
	if res.VideoID == 0 {
		res.VideoID = job.ID
	}
	recorded = true
	r.record(VideoOutcome{
		VideoID: res.VideoID,
		Name:    target.Name,
		Outcome: res.Outcome,
		Reason:  res.Reason,
		Result:  &res,
	})
	if cause := r.opts.HaltOn(res); cause != nil {
		logger.Error().Err(cause).Msg("halting dispatch")
		r.setHalt(cause)
	}
}

func observeFunc(fn func(session.Snapshot)) func(session.Snapshot) {
	if fn == nil {
		return func(session.Snapshot) {}
	}
	return fn
}

func haltOnFatal(res session.Result) error {
	if !res.Fatal {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Reason)
}
