package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/jobwatch"
)

func main() {
	// start mock job API (see mock_server.go)
	go StartMockJobAPI(":8091")
	time.Sleep(100 * time.Millisecond)

	p, err := jobwatch.New("http://localhost:8091/jobs",
		jobwatch.WithMaxPolls(30),
		jobwatch.WithInitialBackoff(250*time.Millisecond),
		jobwatch.WithProgressCallback(func(job jobwatch.Job) {
			fmt.Printf("  %-10s %-11s polls=%d failures=%d\n",
				job.Subject, job.State, job.PollAttempts, job.ConsecutiveFailures)
		}),
		jobwatch.WithCompleteCallback(func(job jobwatch.Job, payload json.RawMessage) {
			fmt.Printf("  %-10s done: %s\n", job.Subject, payload)
		}),
		jobwatch.WithErrorCallback(func(job jobwatch.Job, jerr *jobwatch.Error) {
			fmt.Printf("  %-10s failed (%s), retry offered: %v\n", job.Subject, jerr.Kind, jerr.RetryOffered())
		}),
	)
	if err != nil {
		slog.Error("failed to create poller", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	fmt.Println("  jobwatch demo: two jobs, one expires and is restarted")
	fmt.Println()

	magnesium := p.Start(ctx, jobwatch.JobRequest{Subject: "magnesium"})
	melatonin := p.Start(ctx, jobwatch.JobRequest{Subject: "melatonin"})

	magnesium.Wait()

	res := melatonin.Wait()
	var jerr *jobwatch.Error
	if errors.As(res.Err, &jerr) && jerr.RetryOffered() {
		fmt.Println()
		fmt.Println("  restarting melatonin with a fresh correlation ID")
		fmt.Println()
		res = melatonin.Restart(ctx).Wait()
	}

	if res.Err != nil {
		slog.Error("job did not complete", "error", res.Err)
		os.Exit(1)
	}
}
