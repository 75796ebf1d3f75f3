// SPDX-License-Identifier: MIT

package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/vidbeat/vidbeat/internal/session"
)

const recentLimit = 20

// Status tracks a run while it executes. All methods are safe for
// concurrent use.
type Status struct {
	mu        sync.RWMutex
	runID     string
	startedAt time.Time
	total     int
	counts    map[session.Outcome]int
	active    map[int64]session.Snapshot
	recent    []VideoOutcome
	halt      string
	done      bool
}

// StatusSnapshot is the JSON view served by the status API.
type StatusSnapshot struct {
	RunID     string             `json:"run_id"`
	StartedAt time.Time          `json:"started_at"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Pending   int                `json:"pending"`
	Active    []session.Snapshot `json:"active"`
	Recent    []VideoOutcome     `json:"recent"`
	Halted    string             `json:"halted,omitempty"`
	Done      bool               `json:"done"`
}

// NewStatus creates an empty tracker.
func NewStatus(runID string) *Status {
	return &Status{
		runID:     runID,
		startedAt: time.Now(),
		counts:    make(map[session.Outcome]int),
		active:    make(map[int64]session.Snapshot),
	}
}

func (s *Status) begin(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
}

func (s *Status) observe(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.State.Terminal() {
		delete(s.active, snap.VideoID)
		return
	}
	s.active[snap.VideoID] = snap
}

func (s *Status) complete(o VideoOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, o.VideoID)
	s.counts[o.Outcome]++
	s.recent = append(s.recent, o)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

func (s *Status) halted(cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halt == "" {
		s.halt = cause
	}
}

func (s *Status) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

// Snapshot returns a consistent copy of the current state.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]session.Snapshot, 0, len(s.active))
	for _, a := range s.active {
		active = append(active, a)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].VideoID < active[j].VideoID })

	finished := s.counts[session.OutcomeSucceeded] + s.counts[session.OutcomeSkipped] + s.counts[session.OutcomeFailed]
	return StatusSnapshot{
		RunID:     s.runID,
		StartedAt: s.startedAt,
		Total:     s.total,
		Succeeded: s.counts[session.OutcomeSucceeded],
		Skipped:   s.counts[session.OutcomeSkipped],
		Failed:    s.counts[session.OutcomeFailed],
		Pending:   max(0, s.total-finished-len(active)),
		Active:    active,
		Recent:    append([]VideoOutcome(nil), s.recent...),
		Halted:    s.halt,
		Done:      s.done,
	}
}
