package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobwatch/config"
)

// validateCmd validates a config file without starting any job.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a jobwatch configuration file without starting any job.

This command parses the YAML, expands environment variables, and validates
all fields and subjects. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  jobwatch validate -c jobwatch.yaml`,
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

	direct := len(cfg.Jobs)
	total := len(config.BuildRequests(cfg))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Start URL:     %s\n", cfg.StartURL)
	fmt.Fprintf(out, "  Jobs:          %d direct + %d from matrix = %d total\n", direct, total-direct, total)
	fmt.Fprintf(out, "  Concurrency:   %d\n", cfg.Concurrency)
	fmt.Fprintf(out, "  Restarts:      %d\n", cfg.Restarts)
	if cfg.HistoryDB != "" {
		fmt.Fprintf(out, "  History:       %s\n", cfg.HistoryDB)
	}
	if cfg.ServePort != 0 {
		fmt.Fprintf(out, "  Feed port:     %d\n", cfg.ServePort)
	}

	return nil
}
