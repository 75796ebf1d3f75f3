// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	heartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidbeat_heartbeats_total",
		Help: "Heartbeat events sent, by event type and result",
	}, []string{"event", "result"}) // result=ok|error

	progressPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidbeat_progress_polls_total",
		Help: "Progress polls by phase and result",
	}, []string{"phase", "result"}) // phase=resume|sample|final

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidbeat_sessions_active",
		Help: "Playback sessions currently in a non-terminal state",
	})

	sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidbeat_session_outcomes_total",
		Help: "Finished playback sessions by outcome",
	}, []string{"outcome"}) // outcome=succeeded|skipped|failed

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidbeat_session_duration_seconds",
		Help:    "Wall-clock duration of playback sessions",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	simulatedSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidbeat_simulated_playback_seconds_total",
		Help: "Playback position advanced across all sessions",
	})

	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidbeat_resolve_total",
		Help: "Video target resolution attempts by strategy and result",
	}, []string{"strategy", "result"})

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidbeat_upstream_requests_total",
		Help: "Platform API requests by operation and result class",
	}, []string{"operation", "result"})
)

// RecordHeartbeat counts one heartbeat send attempt.
func RecordHeartbeat(event string, ok bool) {
	heartbeatsTotal.WithLabelValues(event, resultLabel(ok)).Inc()
}

// RecordProgressPoll counts one progress poll.
func RecordProgressPoll(phase string, ok bool) {
	progressPollsTotal.WithLabelValues(phase, resultLabel(ok)).Inc()
}

// SessionStarted marks a session as active.
func SessionStarted() { sessionsActive.Inc() }

// SessionEnded marks a session as terminal and records its outcome.
func SessionEnded(outcome string, seconds float64) {
	sessionsActive.Dec()
	sessionOutcomes.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(seconds)
}

// AddSimulatedSeconds adds advanced playback time.
func AddSimulatedSeconds(s float64) {
	if s > 0 {
		simulatedSeconds.Add(s)
	}
}

// RecordResolve counts a resolver strategy attempt.
func RecordResolve(strategy string, ok bool) {
	resolveTotal.WithLabelValues(strategy, resultLabel(ok)).Inc()
}

// RecordUpstream counts a platform API request.
func RecordUpstream(operation, result string) {
	upstreamRequests.WithLabelValues(operation, result).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
