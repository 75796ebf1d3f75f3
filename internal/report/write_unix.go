// SPDX-License-Identifier: MIT

//go:build !windows

package report

import (
	"context"
	"fmt"

	"github.com/google/renameio/v2"

	vblog "github.com/vidbeat/vidbeat/internal/log"
)

func writeAtomic(ctx context.Context, path string, data []byte) error {
	logger := vblog.WithComponentFromContext(ctx, "report")

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending report: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending report")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}
