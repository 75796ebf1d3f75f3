// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vidbeat/vidbeat/internal/config"
	"github.com/vidbeat/vidbeat/internal/heartbeat"
	"github.com/vidbeat/vidbeat/internal/ledger"
	vblog "github.com/vidbeat/vidbeat/internal/log"
	"github.com/vidbeat/vidbeat/internal/report"
	"github.com/vidbeat/vidbeat/internal/resolve"
	"github.com/vidbeat/vidbeat/internal/scheduler"
	"github.com/vidbeat/vidbeat/internal/session"
	"github.com/vidbeat/vidbeat/internal/statusapi"
	"github.com/vidbeat/vidbeat/internal/telemetry"
)

type runFlags struct {
	sequential   bool
	test         bool
	testCount    int
	maxParallel  int
	speed        float64
	statusListen string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover the classroom's videos and play them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root, f.apply(cmd))
			if err != nil {
				return err
			}
			agg, err := runWatch(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if agg.Halted != "" {
				return fmt.Errorf("run halted: %s", agg.Halted)
			}
			if agg.Failed > 0 {
				return fmt.Errorf("%w: %d of %d videos failed", errRunIncomplete, agg.Failed, agg.Total)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.sequential, "sequential", false, "play one video at a time with a 2s pause between starts")
	fl.BoolVar(&f.test, "test", false, "only play the first videos (see --test-count)")
	fl.IntVar(&f.testCount, "test-count", 0, "number of videos in test mode")
	fl.IntVar(&f.maxParallel, "max-parallel", 0, "maximum concurrent sessions")
	fl.Float64Var(&f.speed, "speed", 0, "playback speed multiplier")
	fl.StringVar(&f.statusListen, "status-listen", "", "serve live status on this address, e.g. :9090")
	return cmd
}

func (f *runFlags) apply(cmd *cobra.Command) func(*config.AppConfig) {
	return func(cfg *config.AppConfig) {
		fl := cmd.Flags()
		if fl.Changed("sequential") {
			cfg.Sequential = f.sequential
		}
		if fl.Changed("test") {
			cfg.TestMode = f.test
		}
		if fl.Changed("test-count") {
			cfg.TestVideoCount = f.testCount
		}
		if fl.Changed("max-parallel") {
			cfg.MaxParallel = f.maxParallel
		}
		if fl.Changed("speed") {
			cfg.Speed = f.speed
		}
		if fl.Changed("status-listen") {
			cfg.StatusListen = f.statusListen
		}
	}
}

func sessionConfig(cfg config.AppConfig) session.Config {
	sc := session.DefaultConfig()
	sc.Speed = cfg.Speed
	sc.Interval = cfg.HeartbeatInterval
	sc.ProgressEvery = cfg.ProgressEvery
	sc.SkipCompleted = cfg.SkipCompleted
	sc.CompleteThreshold = cfg.CompleteThreshold
	sc.Rewind = cfg.Rewind
	sc.MaxConsecutiveFailures = cfg.MaxConsecutiveFailures
	return sc
}

// runWatch performs one complete run and returns its aggregate. Errors are
// returned only when the run could not start.
func runWatch(ctx context.Context, cfg config.AppConfig, out io.Writer) (scheduler.AggregateResult, error) {
	runID := uuid.NewString()
	ctx = vblog.ContextWithRunID(ctx, runID)
	logger := vblog.WithComponentFromContext(ctx, "cli")
	started := time.Now()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "vidbeat",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return scheduler.AggregateResult{}, fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	store, err := ledger.Open(cfg.DataDir)
	if err != nil {
		return scheduler.AggregateResult{}, err
	}
	defer func() { _ = store.Close() }()

	p, err := newPlatform(cfg)
	if err != nil {
		return scheduler.AggregateResult{}, err
	}

	leaves, err := p.catalog.ListVideos(ctx)
	if err != nil {
		return scheduler.AggregateResult{}, fmt.Errorf("list videos: %w", err)
	}
	if cfg.TestMode && len(leaves) > cfg.TestVideoCount {
		logger.Info().Int("available", len(leaves)).Int("limit", cfg.TestVideoCount).Msg("test mode: limiting videos")
		leaves = leaves[:cfg.TestVideoCount]
	}
	fmt.Fprintf(out, "run %s: %d videos in classroom %d\n", runID, len(leaves), cfg.ClassroomID)

	status := scheduler.NewStatus(runID)
	stopStatus, err := startStatusAPI(ctx, cfg.StatusListen, status, store)
	if err != nil {
		return scheduler.AggregateResult{}, err
	}
	defer stopStatus()

	maxParallel, delay := cfg.EffectiveParallelism()
	printer := &outcomePrinter{w: out}
	agg := scheduler.RunJobs(ctx, jobsFor(p.resolver, leaves), scheduler.Options{
		MaxParallel:   maxParallel,
		DispatchDelay: delay,
		Transport:     p.client,
		Session:       sessionConfig(cfg),
		Status:        status,
		OnOutcome: func(o scheduler.VideoOutcome) {
			printer.print(o)
			if err := store.Record(context.WithoutCancel(ctx), ledger.FromOutcome(runID, o)); err != nil {
				logger.Warn().Err(err).Int64(vblog.FieldVideoID, o.VideoID).Msg("history not recorded")
			}
		},
	})

	if cfg.DataDir != "" {
		rep := report.Report{
			RunID:           runID,
			Version:         version,
			ClassroomID:     cfg.ClassroomID,
			StartedAt:       started,
			FinishedAt:      time.Now(),
			AggregateResult: agg,
		}
		if err := report.Write(ctx, report.Path(cfg.DataDir), rep); err != nil {
			logger.Warn().Err(err).Msg("run report not written")
		}
	}

	fmt.Fprintf(out, "done: %d total, %d succeeded, %d skipped, %d failed\n",
		agg.Total, agg.Succeeded, agg.Skipped, agg.Failed)
	return agg, nil
}

func jobsFor(r *resolve.Resolver, leaves []resolve.Leaf) []scheduler.Job {
	jobs := make([]scheduler.Job, 0, len(leaves))
	for _, leaf := range leaves {
		jobs = append(jobs, scheduler.Job{
			ID:   leaf.ID,
			Name: leaf.Name,
			Resolve: func(ctx context.Context) (heartbeat.VideoTarget, error) {
				return r.Resolve(ctx, leaf)
			},
		})
	}
	return jobs
}

// startStatusAPI serves live status until the returned stop is called.
func startStatusAPI(ctx context.Context, addr string, status *scheduler.Status, store ledger.Store) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	srv, err := statusapi.Listen(addr, statusapi.NewRouter(statusapi.Deps{
		Status:            status,
		History:           store,
		RequestsPerMinute: 600,
	}))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger := vblog.WithComponentFromContext(ctx, "cli")
			logger.Error().Err(err).Msg("status api stopped")
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

type outcomePrinter struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

func (p *outcomePrinter) print(o scheduler.VideoOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	line := fmt.Sprintf("[%d] %-9s %d %s", p.n, o.Outcome, o.VideoID, o.Name)
	if o.Reason != "" {
		line += " (" + o.Reason + ")"
	}
	fmt.Fprintln(p.w, line)
}
