// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vidbeat_breaker_state",
		Help: "Platform breaker position; the current state is 1",
	}, []string{"breaker", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidbeat_breaker_trips_total",
		Help: "Times a platform breaker opened",
	}, []string{"breaker", "cause"}) // cause=threshold|probe_failed
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetCircuitBreakerState moves the breaker's one-hot state gauge.
func SetCircuitBreakerState(breaker, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(breaker, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts a transition to open.
func RecordCircuitBreakerTrip(breaker, cause string) {
	breakerTrips.WithLabelValues(breaker, cause).Inc()
}
