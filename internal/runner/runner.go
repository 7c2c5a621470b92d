// Package runner watches a batch of jobs concurrently for the jobwatch CLI.
//
// Each request is started on a shared [jobwatch.Poller]. Progress is mirrored
// into a [store.Store] for the live feed, terminal outcomes are written to an
// optional [Recorder], and failures that offer a retry are restarted with
// exponential backoff up to a configured number of times.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/jobwatch"
	"github.com/jpalmerr/jobwatch/internal/history"
	"github.com/jpalmerr/jobwatch/internal/store"
)

const (
	defaultConcurrency = 4
	recordTimeout      = 5 * time.Second
)

// Recorder persists terminal outcomes. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Config configures a [Runner].
type Config struct {
	// Store receives every snapshot. Required.
	Store store.Store

	// History records terminal outcomes. Nil disables recording.
	History Recorder

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Restarts is how many fresh attempts follow a retry-offered failure.
	Restarts int

	// Concurrency limits how many jobs are watched at once. Defaults to 4.
	Concurrency int
}

// Outcome is the final result of one request after any restarts.
type Outcome struct {
	Request jobwatch.JobRequest

	// Attempts counts logical attempts, including the first.
	Attempts int

	// Result is the last attempt's result.
	Result jobwatch.Result
}

// Runner drives a batch of job watches.
type Runner struct {
	poller      *jobwatch.Poller
	store       store.Store
	history     Recorder
	logger      *slog.Logger
	restarts    int
	concurrency int

	// newBackOff returns the delay policy between restarts.
	newBackOff func() backoff.BackOff
}

// New creates a Runner whose poller targets startURL.
//
// The runner adds its own logger and callbacks to pollerOpts; callbacks
// already present in pollerOpts still fire.
func New(startURL string, pollerOpts []jobwatch.Option, cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New("runner: store is required")
	}
	if cfg.Restarts < 0 {
		return nil, errors.New("runner: restarts cannot be negative")
	}

	r := &Runner{
		store:       cfg.Store,
		history:     cfg.History,
		logger:      cfg.Logger,
		restarts:    cfg.Restarts,
		concurrency: cfg.Concurrency,
		newBackOff:  defaultBackOff,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.concurrency <= 0 {
		r.concurrency = defaultConcurrency
	}

	opts := append([]jobwatch.Option{jobwatch.WithLogger(r.logger)}, pollerOpts...)
	opts = append(opts,
		jobwatch.WithProgressCallback(r.onProgress),
		jobwatch.WithCompleteCallback(r.onComplete),
		jobwatch.WithErrorCallback(r.onError),
	)

	p, err := jobwatch.New(startURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	r.poller = p
	return r, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Close releases the poller's idle connections.
func (r *Runner) Close() {
	r.poller.Close()
}

// Run watches every request and blocks until all are done or ctx ends.
// Outcomes are returned in request order. The returned error is non-nil
// only when ctx ended before every watch finished.
func (r *Runner) Run(ctx context.Context, reqs []jobwatch.JobRequest) ([]Outcome, error) {
	outcomes := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, req := range reqs {
		if ctx.Err() != nil {
			outcomes[i] = Outcome{Request: req, Result: jobwatch.Result{Err: jobwatch.ErrCancelled}}
			continue
		}
		g.Go(func() error {
			outcomes[i] = r.safeWatch(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("runner: %w", err)
	}
	return outcomes, nil
}

// safeWatch runs watch with panic recovery so one bad job cannot take down
// the batch.
func (r *Runner) safeWatch(ctx context.Context, req jobwatch.JobRequest) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			incident := uuid.NewString()
			r.logger.Error("job watch panicked",
				"incident_id", incident,
				"subject", req.Subject,
				"panic", fmt.Sprintf("%v", p),
				"stack", string(debug.Stack()),
			)
			out = Outcome{
				Request: req,
				Result:  jobwatch.Result{Err: fmt.Errorf("job watch panicked (incident_id: %s)", incident)},
			}
		}
	}()
	return r.watch(ctx, req)
}

// restartable reports whether a fresh attempt could end differently.
// Rejected subjects and oversized responses repeat on every attempt.
func restartable(err error) bool {
	if errors.Is(err, jobwatch.ErrInvalidSubject) {
		return false
	}
	var jerr *jobwatch.Error
	if !errors.As(err, &jerr) {
		return false
	}
	return jerr.RetryOffered() && jerr.Kind != jobwatch.KindResponseTooLarge
}

// watch runs one request to completion, restarting retry-offered failures.
func (r *Runner) watch(ctx context.Context, req jobwatch.JobRequest) Outcome {
	out := Outcome{Request: req}
	var h *jobwatch.Handle

	attempt := func() error {
		if h == nil {
			h = r.poller.Start(ctx, req)
		} else {
			h = h.Restart(ctx)
		}
		out.Attempts++
		out.Result = h.Wait()
		r.record(out.Result)

		err := out.Result.Err
		if err == nil {
			return nil
		}
		if !restartable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		r.logger.Warn("restarting job",
			"subject", req.Subject,
			"previous_correlation_id", out.Result.Job.CorrelationID,
			"attempt", out.Attempts+1,
			"delay", delay,
			"error", err,
		)
	}

	// WithMaxRetries treats zero as unlimited
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if r.restarts > 0 {
		policy = backoff.WithMaxRetries(r.newBackOff(), uint64(r.restarts))
	}

	// the last attempt's result is the outcome; the returned error repeats it
	_ = backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify)
	return out
}

// record writes a terminal result to history. Cancelled attempts are skipped.
func (r *Runner) record(res jobwatch.Result) {
	if r.history == nil || errors.Is(res.Err, jobwatch.ErrCancelled) {
		return
	}

	job := res.Job
	e := history.Entry{
		CorrelationID:         job.CorrelationID,
		PreviousCorrelationID: job.PreviousCorrelationID,
		JobID:                 job.ID,
		Subject:               job.Subject,
		State:                 string(job.State),
		PollAttempts:          job.PollAttempts,
		ConsecutiveFailures:   job.ConsecutiveFailures,
		LastStatusCode:        job.LastStatusCode,
		Payload:               res.Payload,
		StartedAt:             job.StartedAt,
		FinishedAt:            job.UpdatedAt,
	}
	var jerr *jobwatch.Error
	if errors.As(res.Err, &jerr) {
		e.ErrorKind = string(jerr.Kind)
		e.Error = jerr.Error()
	} else if res.Err != nil {
		e.Error = res.Err.Error()
	}

	// outcomes are recorded even while the batch is shutting down
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.history.Record(ctx, e); err != nil {
		r.logger.Error("failed to record outcome",
			"correlation_id", job.CorrelationID,
			"error", err,
		)
	}
}

func (r *Runner) onProgress(job jobwatch.Job) {
	r.store.Update(snapshotOf(job))
}

func (r *Runner) onComplete(job jobwatch.Job, payload json.RawMessage) {
	snap := snapshotOf(job)
	snap.Payload = payload
	r.store.Update(snap)
}

func (r *Runner) onError(job jobwatch.Job, jerr *jobwatch.Error) {
	snap := snapshotOf(job)
	msg := jerr.Error()
	snap.Error = &msg
	snap.ErrorKind = string(jerr.Kind)
	snap.RetryOffered = jerr.RetryOffered()
	r.store.Update(snap)
}

func snapshotOf(job jobwatch.Job) store.JobSnapshot {
	return store.JobSnapshot{
		CorrelationID:         job.CorrelationID,
		PreviousCorrelationID: job.PreviousCorrelationID,
		JobID:                 job.ID,
		Subject:               job.Subject,
		State:                 string(job.State),
		ConsecutiveFailures:   job.ConsecutiveFailures,
		PollAttempts:          job.PollAttempts,
		LastStatusCode:        job.LastStatusCode,
		StartedAt:             job.StartedAt,
		UpdatedAt:             job.UpdatedAt,
	}
}
