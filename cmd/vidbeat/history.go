// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidbeat/vidbeat/internal/config"
	"github.com/vidbeat/vidbeat/internal/ledger"
	"github.com/vidbeat/vidbeat/internal/persistence/sqlite"
	"github.com/vidbeat/vidbeat/internal/report"
	"github.com/vidbeat/vidbeat/internal/validate"
)

// historyConfig loads only what the history commands need. Credentials
// are not required to read local state.
func historyConfig(cmd *cobra.Command, root *rootOptions) (config.AppConfig, error) {
	cfg, err := config.NewLoader(root.configPath, version).Load()
	var verr validate.ValidationError
	if err != nil && !errors.As(err, &verr) {
		return cfg, err
	}
	configureLogging(cmd, root, cfg)
	if cfg.DataDir == "" {
		return cfg, errors.New("history needs a data directory (VIDBEAT_DATA_DIR or dataDir)")
	}
	return cfg, nil
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit   int
		videoID int64
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded video outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := historyConfig(cmd, root)
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var entries []ledger.Entry
			if videoID > 0 {
				entries, err = store.Video(cmd.Context(), videoID)
			} else {
				entries, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COMPLETED\tVIDEO\tOUTCOME\tPOSITION\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%.0f/%.0f\t%s\n",
					e.CompletedAt.Local().Format(time.DateTime), e.VideoID, e.Outcome, e.EndPosition, e.Duration, e.Reason)
			}
			return tw.Flush()
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&limit, "limit", "n", 20, "number of entries")
	fl.Int64Var(&videoID, "video", 0, "only this video id")
	fl.BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(newHistoryVerifyCmd(root), newHistoryLastCmd(root))
	return cmd
}

func newHistoryVerifyCmd(root *rootOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the history database for corruption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := historyConfig(cmd, root)
			if err != nil {
				return err
			}
			store, err := ledger.NewSqliteStore(ledger.Path(cfg.DataDir))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			mode := sqlite.CheckQuick
			if full {
				mode = sqlite.CheckFull
			}
			issues, err := store.Verify(cmd.Context(), mode)
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintln(cmd.ErrOrStderr(), issue)
				}
				return fmt.Errorf("history database is corrupt (%d issues)", len(issues))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "run the full integrity check")
	return cmd
}

func newHistoryLastCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Print the report of the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := historyConfig(cmd, root)
			if err != nil {
				return err
			}
			rep, err := report.Read(report.Path(cfg.DataDir))
			if errors.Is(err, os.ErrNotExist) {
				return errors.New("no run report yet")
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
}
