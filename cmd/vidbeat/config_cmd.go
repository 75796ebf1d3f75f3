// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vidbeat/vidbeat/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root, nil)
			if err != nil {
				return err
			}
			return printView(cmd, cfg.RedactedView(), format)
		},
	}
	show.Flags().StringVarP(&format, "format", "o", "yaml", "output format: yaml or json")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(cmd, root, nil); err != nil {
				return err
			}
			src := root.configPath
			if src == "" {
				src = "environment"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", src)
			return nil
		},
	}

	cmd.AddCommand(show, validateCmd)
	return cmd
}

func printView(cmd *cobra.Command, v config.View, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (want yaml or json)", format)
}
