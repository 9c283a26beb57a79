package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pollster/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a pollster configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pollster validate -c config.yaml
  pollster validate --config /etc/pollster/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// build the SDK timelines too, so SDK-level validation runs
	timelines, err := config.BuildTimelines(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var feeds, queries, follows int
	for _, tl := range timelines {
		feeds += len(tl.Feeds())
		queries += len(tl.Queries())
		if tl.FollowsOf() != "" {
			follows++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Service URL:   %s\n", cfg.ServiceURL)
	if cfg.TickInterval != 0 {
		fmt.Fprintf(out, "  Tick interval: %s\n", cfg.TickInterval.Duration())
	}
	if cfg.CachePath != "" {
		fmt.Fprintf(out, "  Feed cache:    %s\n", cfg.CachePath)
	}
	fmt.Fprintf(out, "  Timelines:     %d (%d feeds, %d queries, %d follow lists)\n",
		len(timelines), feeds, queries, follows)

	return nil
}
