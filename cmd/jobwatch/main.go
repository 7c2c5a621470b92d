// Package main is the entry point for the jobwatch CLI.
//
// jobwatch can be used either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	jobwatch run -c config.yaml         # Watch every configured job
//	jobwatch validate -c config.yaml    # Validate configuration
//	jobwatch history --db jobwatch.db   # Show recorded outcomes
//	jobwatch mock-server --addr :8090   # Serve a demo job API
//	jobwatch version                    # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "jobwatch",
	Short: "Watch asynchronous jobs until they finish",
	Long: `jobwatch starts jobs on an asynchronous job API and polls them until
they complete, fail or run out of budget.

Failed polls are retried with bounded exponential backoff. Terminal server
signals (expired, not found, rate limited, timed out) end a job at once.

Quick start:
  1. Run: jobwatch mock-server --addr :8090
  2. Create a config file (jobwatch.yaml)
  3. Run: jobwatch run -c jobwatch.yaml

Example config:
  start_url: http://localhost:8090/jobs
  restarts: 1
  jobs:
    - subject: magnesium`,
	// No Run/RunE means this just shows help when called without subcommands
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

// newLogger creates a JSON logger for CLI use.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this jobwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "jobwatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
