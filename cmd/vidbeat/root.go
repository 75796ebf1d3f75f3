// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vidbeat/vidbeat/internal/config"
	vblog "github.com/vidbeat/vidbeat/internal/log"
	"github.com/vidbeat/vidbeat/internal/validate"
)

// errRunIncomplete marks a run that finished with failed videos.
var errRunIncomplete = errors.New("run finished with failures")

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "vidbeat",
		Short:         "Play course videos so the platform records them as watched",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(opts),
		newListCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig resolves configuration, lets adjust apply flag overrides and
// validates the final result. The global logger is configured from it.
func loadConfig(cmd *cobra.Command, opts *rootOptions, adjust func(*config.AppConfig)) (config.AppConfig, error) {
	cfg, err := config.NewLoader(opts.configPath, version).Load()
	var verr validate.ValidationError
	if err != nil && (adjust == nil || !errors.As(err, &verr)) {
		return cfg, err
	}
	// Flags may fix what the loader rejected, so validate again after them.
	if adjust != nil {
		adjust(&cfg)
		if err := config.Validate(cfg); err != nil {
			return cfg, fmt.Errorf("config validation failed: %w", err)
		}
	}
	configureLogging(cmd, opts, cfg)
	return cfg, nil
}

func configureLogging(cmd *cobra.Command, opts *rootOptions, cfg config.AppConfig) {
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	vblog.Reconfigure(vblog.Config{
		Level:   level,
		Output:  cmd.ErrOrStderr(),
		Service: "vidbeat",
		Version: version,
	})
}

func exitCode(err error) int {
	var verr validate.ValidationError
	switch {
	case errors.As(err, &verr):
		return 2
	case errors.Is(err, errRunIncomplete):
		return 3
	}
	return 1
}
