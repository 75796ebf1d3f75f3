// SPDX-License-Identifier: MIT

//go:build windows

package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic uses temp file + rename; Windows has no durable rename.
func writeAtomic(_ context.Context, path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vidbeat-report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}
