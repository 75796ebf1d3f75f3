// SPDX-License-Identifier: MIT

// Package sqlite opens SQLite databases with the PRAGMAs every vidbeat
// store relies on and applies versioned schema migrations.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// Config holds connection pool settings.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig suits a single-process CLI with a few concurrent writers.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// Open creates the parent directory if needed and returns a pinged pool.
// WAL mode and busy_timeout are set in the DSN so every pooled connection
// gets them.
func Open(dbPath string, cfg Config) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", dbPath, err)
	}
	return db, nil
}

// Migrate brings the schema to len(steps) using PRAGMA user_version.
// steps[i] upgrades version i to i+1. Each pending step runs in its own
// transaction together with the version bump.
func Migrate(ctx context.Context, db *sql.DB, steps []string) (int, error) {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return 0, fmt.Errorf("sqlite: read user_version: %w", err)
	}
	if current > len(steps) {
		return current, fmt.Errorf("sqlite: schema version %d is newer than this binary (%d)", current, len(steps))
	}

	for v := current; v < len(steps); v++ {
		if err := migrateStep(ctx, db, steps[v], v+1); err != nil {
			return v, fmt.Errorf("sqlite: migrate to v%d: %w", v+1, err)
		}
	}
	return len(steps), nil
}

func migrateStep(ctx context.Context, db *sql.DB, stmt string, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}
