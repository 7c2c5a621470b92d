package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobwatch/internal/mockserver"
)

// mockServerCmd serves a demo job API for trying the CLI locally.
var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Serve a demo job API",
	Long: `Serve a scripted job API for local testing.

Every job reports processing a few times, occasionally fails one poll with a
server error, then completes with an evidence-graded supplement summary.
The same subject always follows the same script.

Endpoints:
  POST /jobs       start a job
  GET  /jobs/{id}  poll a job

Example:
  jobwatch mock-server --addr :8090
  jobwatch run -c jobwatch.yaml   # with start_url: http://localhost:8090/jobs`,
	RunE:         runMockServer,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(mockServerCmd)

	mockServerCmd.Flags().String("addr", ":8090", "listen address")
	mockServerCmd.Flags().Duration("poll-interval", 500*time.Millisecond, "poll interval advertised to clients")
}

func runMockServer(cmd *cobra.Command, args []string) error {
	logger := newLogger(true)

	addr, _ := cmd.Flags().GetString("addr")
	interval, _ := cmd.Flags().GetDuration("poll-interval")

	mock := mockserver.New(
		mockserver.WithScriptFunc(mockserver.DemoScript),
		mockserver.WithPollInterval(interval),
		mockserver.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// bind first so we can report bind errors synchronously
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mock,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	logger.Info("mock job API listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Mock job API listening on http://%s/jobs\n", ln.Addr())

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mock server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mock server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
