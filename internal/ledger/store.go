// SPDX-License-Identifier: MIT

// Package ledger keeps a history of per-video outcomes across runs.
package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vidbeat/vidbeat/internal/scheduler"
)

// FileName is the sqlite file created inside the data directory.
const FileName = "ledger.sqlite"

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("ledger: store closed")

// Entry is one recorded video outcome.
type Entry struct {
	RunID         string    `json:"run_id"`
	VideoID       int64     `json:"video_id"`
	Name          string    `json:"name,omitempty"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	StartPosition float64   `json:"start_position"`
	EndPosition   float64   `json:"end_position"`
	Duration      float64   `json:"duration"`
	EventsSent    int       `json:"events_sent"`
	CompletedAt   time.Time `json:"completed_at"`
}

// FromOutcome flattens a scheduler outcome into a ledger entry.
func FromOutcome(runID string, o scheduler.VideoOutcome) Entry {
	e := Entry{
		RunID:       runID,
		VideoID:     o.VideoID,
		Name:        o.Name,
		Outcome:     string(o.Outcome),
		Reason:      o.Reason,
		CompletedAt: o.CompletedAt,
	}
	if r := o.Result; r != nil {
		e.StartPosition = r.StartPosition
		e.EndPosition = r.EndPosition
		e.Duration = r.Duration
		e.EventsSent = r.EventsSent
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	return e
}

// Store persists entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Video returns the history of one video, newest first.
	Video(ctx context.Context, videoID int64) ([]Entry, error)
	Close() error
}

// Open returns a sqlite store under dir, or a memory store when dir is
// empty.
func Open(dir string) (Store, error) {
	if dir == "" {
		return NewMemoryStore(), nil
	}
	return NewSqliteStore(Path(dir))
}

// Path returns the ledger file location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// MemoryStore keeps entries for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	return s.filter(limit, func(Entry) bool { return true })
}

func (s *MemoryStore) Video(_ context.Context, videoID int64) ([]Entry, error) {
	return s.filter(0, func(e Entry) bool { return e.VideoID == videoID })
}

func (s *MemoryStore) filter(limit int, keep func(Entry) bool) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []Entry
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	// Stable keeps insertion order for equal timestamps, then reverse.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
