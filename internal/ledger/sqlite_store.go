// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vidbeat/vidbeat/internal/persistence/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		video_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		start_pos REAL NOT NULL DEFAULT 0,
		end_pos REAL NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		completed_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_completed ON outcomes(completed_at_ms);
	CREATE INDEX IF NOT EXISTS idx_outcomes_video ON outcomes(video_id);`,
	`ALTER TABLE outcomes ADD COLUMN events_sent INTEGER NOT NULL DEFAULT 0;`,
}

const selectColumns = `run_id, video_id, name, outcome, reason, start_pos, end_pos, duration, events_sent, completed_at_ms`

// SqliteStore persists entries in a local SQLite file.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens or creates the ledger at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, err := sqlite.Migrate(context.Background(), db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Record(ctx context.Context, e Entry) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO outcomes (run_id, video_id, name, outcome, reason, start_pos, end_pos, duration, events_sent, completed_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.VideoID, e.Name, e.Outcome, e.Reason,
		e.StartPosition, e.EndPosition, e.Duration, e.EventsSent, e.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ledger: record video %d: %w", e.VideoID, err)
	}
	return nil
}

func (s *SqliteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM outcomes ORDER BY completed_at_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	return scanEntries(rows)
}

func (s *SqliteStore) Video(ctx context.Context, videoID int64) ([]Entry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM outcomes WHERE video_id = ? ORDER BY completed_at_ms DESC, id DESC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("ledger: video %d: %w", videoID, err)
	}
	return scanEntries(rows)
}

// Verify runs an integrity check on the ledger file.
func (s *SqliteStore) Verify(ctx context.Context, mode sqlite.CheckMode) ([]string, error) {
	return sqlite.Verify(ctx, s.DB, mode)
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.RunID, &e.VideoID, &e.Name, &e.Outcome, &e.Reason,
			&e.StartPosition, &e.EndPosition, &e.Duration, &e.EventsSent, &ms); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		e.CompletedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
