// Package main is the entry point for the pollster CLI.
//
// pollster can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pollster serve -c config.yaml    # Start the dashboard
//	pollster validate -c config.yaml # Validate configuration
//	pollster version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pollster",
	Short: "A live timeline dashboard for trsst feeds",
	Long: `pollster renders live timelines from a trsst feed service.

It polls feeds with an adaptive schedule, threads replies under the
entries they answer, and displays every timeline in a web UI with
Server-Sent Events for live updates.

Quick start:
  1. Create a config file (pollster.yaml)
  2. Run: pollster serve -c pollster.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  service_url: http://localhost:8181/feed
  timelines:
    - name: home
      feeds: [urn:feed:abc]
      follows_of: urn:feed:me`,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pollster binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pollster %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
