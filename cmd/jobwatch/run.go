package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobwatch"
	"github.com/jpalmerr/jobwatch/config"
	"github.com/jpalmerr/jobwatch/internal/history"
	"github.com/jpalmerr/jobwatch/internal/runner"
	"github.com/jpalmerr/jobwatch/internal/server"
	"github.com/jpalmerr/jobwatch/internal/store"
)

const shutdownTimeout = 10 * time.Second

// runCmd watches every configured job until it finishes.
var runCmd = &cobra.Command{
	Use:   "run [subject...]",
	Short: "Start and watch jobs",
	Long: `Start every configured job and watch it until it reaches a terminal state.

The command will:
  - Load environment variables from --env-file, if given
  - Load configuration from the specified YAML file
  - Watch jobs concurrently, logging progress as JSON to stderr
  - Serve the live progress feed when serve_port is set
  - Record terminal outcomes when history_db is set
  - Restart failures that offer a retry, up to 'restarts' times

Subjects given on the command line replace the configured jobs.
The command exits non-zero if any job did not complete.

Example:
  jobwatch run -c jobwatch.yaml
  jobwatch run -c jobwatch.yaml --env-file .env magnesium zinc`,
	RunE:         runRun,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	runCmd.Flags().String("env-file", "", "load environment variables from this file before reading config")
	runCmd.Flags().BoolP("verbose", "v", false, "log every poll")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reqs, err := requestsFor(cfg, args)
	if err != nil {
		return err
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcomes, err := watchAll(ctx, cfg, reqs, logger)
	if err != nil && len(outcomes) == 0 {
		return err
	}

	failed := printOutcomes(cmd.OutOrStdout(), outcomes)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs did not complete", failed, len(outcomes))
	}
	return nil
}

// requestsFor returns the jobs to watch: args as subjects when given,
// otherwise everything in the config.
func requestsFor(cfg *config.Config, args []string) ([]jobwatch.JobRequest, error) {
	if len(args) > 0 {
		reqs := make([]jobwatch.JobRequest, 0, len(args))
		for _, subject := range args {
			if err := jobwatch.ValidateSubject(subject); err != nil {
				return nil, fmt.Errorf("subject %q: %w", subject, err)
			}
			reqs = append(reqs, jobwatch.JobRequest{Subject: subject})
		}
		return reqs, nil
	}

	reqs := config.BuildRequests(cfg)
	if len(reqs) == 0 {
		return nil, errors.New("no jobs configured (add jobs or matrix, or pass subjects as arguments)")
	}
	return reqs, nil
}

// watchAll wires the store, feed server, history and runner for one batch.
func watchAll(ctx context.Context, cfg *config.Config, reqs []jobwatch.JobRequest, logger *slog.Logger) ([]runner.Outcome, error) {
	st := store.NewMemoryStore()

	rcfg := runner.Config{
		Store:       st,
		Logger:      logger,
		Restarts:    cfg.Restarts,
		Concurrency: cfg.Concurrency,
	}

	if cfg.HistoryDB != "" {
		h, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		defer func() { _ = h.Close() }()
		rcfg.History = h
	}

	r, err := runner.New(cfg.StartURL, config.BuildOptions(cfg), rcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	defer r.Close()

	if cfg.ServePort != 0 {
		srvCtx, srvCancel := context.WithCancel(ctx)
		errChan := make(chan error, 1)
		srv := server.NewServer(st, cfg.ServePort, logger)
		go func() {
			errChan <- srv.Start(srvCtx)
		}()
		defer func() {
			srvCancel()
			select {
			case err := <-errChan:
				if err != nil {
					logger.Error("progress feed error", "error", err)
				}
			case <-time.After(shutdownTimeout):
				logger.Warn("shutdown timed out",
					"timeout", shutdownTimeout.String(),
					"action", "forcing exit",
				)
			}
		}()
	}

	logger.Info("watching jobs",
		"jobs", len(reqs),
		"concurrency", cfg.Concurrency,
		"restarts", cfg.Restarts,
	)

	return r.Run(ctx, reqs)
}

// printOutcomes writes a summary table and returns how many jobs did not
// complete.
func printOutcomes(w io.Writer, outcomes []runner.Outcome) int {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tSTATE\tATTEMPTS\tPOLLS\tCORRELATION ID\tERROR")

	failed := 0
	for _, out := range outcomes {
		job := out.Result.Job
		state := string(job.State)
		errText := ""
		if out.Result.Err != nil {
			failed++
			errText = out.Result.Err.Error()
			if errors.Is(out.Result.Err, jobwatch.ErrCancelled) {
				state = "cancelled"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			out.Request.Subject, state, out.Attempts, job.PollAttempts, job.CorrelationID, errText)
	}
	_ = tw.Flush()
	return failed
}
