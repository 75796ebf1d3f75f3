// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CheckMode selects the integrity PRAGMA.
type CheckMode string

const (
	CheckQuick CheckMode = "quick"
	CheckFull  CheckMode = "full"
)

// Verify runs an integrity check on an open database. A nil slice means
// the database is healthy; otherwise it holds the diagnostic rows.
func Verify(ctx context.Context, db *sql.DB, mode CheckMode) ([]string, error) {
	pragma := "PRAGMA quick_check"
	if mode == CheckFull {
		pragma = "PRAGMA integrity_check"
	}

	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
	}
	defer func() { _ = rows.Close() }()

	var issues []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("sqlite: scan integrity row: %w", err)
		}
		issues = append(issues, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(issues) == 1 && strings.EqualFold(issues[0], "ok"):
		return nil, nil
	case len(issues) == 0:
		return []string{"integrity check returned no rows"}, nil
	}
	return issues, nil
}
