package jobwatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/jobwatch/internal/transport"
)

// Handle tracks one logical attempt started by [Poller.Start].
//
// The handle's goroutine is the only writer of the job state. Every
// asynchronous resumption point (after the start call, after each poll,
// after each timer) checks whether the handle is still live before
// mutating state or invoking callbacks, so a response that races with
// [Handle.Cancel] is dropped.
type Handle struct {
	p      *Poller
	req    JobRequest
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	job       Job
	cancelled bool
	finished  bool
	result    Result
}

func newHandle(p *Poller, parent context.Context, req JobRequest) *Handle {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()

	job := Job{
		CorrelationID:         uuid.NewString(),
		PreviousCorrelationID: req.PreviousCorrelationID,
		Subject:               SanitizeSubject(req.Subject),
		State:                 StateStarting,
		StartedAt:             now,
		UpdatedAt:             now,
	}

	return &Handle{
		p:   p,
		req: req,
		logger: p.logger.With(
			"correlation_id", job.CorrelationID,
			"subject", job.Subject,
		),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		job:    job,
	}
}

// CorrelationID returns the correlation ID sent with every request of this attempt.
func (h *Handle) CorrelationID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.CorrelationID
}

// Job returns the latest snapshot.
func (h *Handle) Job() Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

// Done returns a channel closed once the handle's goroutine has exited,
// either at a terminal state or after cancellation.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle is done and returns its [Result].
func (h *Handle) Wait() Result {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Cancel stops the attempt. Pending timers never fire and in-flight
// responses are ignored. No callback starts after Cancel returns; a
// callback already running on the handle's goroutine finishes normally.
//
// Cancel is idempotent and safe to call in any state. Cancelling a handle
// that already reached a terminal state has no effect on its result.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if !h.finished {
		h.cancelled = true
	}
	h.mu.Unlock()
	h.cancel()
}

// Restart begins a brand-new attempt for the same request. The new handle
// gets fresh counters and a fresh correlation ID; the old job ID and
// correlation ID are sent along as diagnostics metadata. If this handle is
// still running it is cancelled first.
//
// Restart waits for this handle's goroutine to exit, so it must not be
// called from one of its own callbacks.
func (h *Handle) Restart(ctx context.Context) *Handle {
	h.Cancel()
	<-h.done

	prev := h.Job()
	req := h.req
	req.PreviousJobID = prev.ID
	req.PreviousCorrelationID = prev.CorrelationID
	return h.p.Start(ctx, req)
}

func (h *Handle) run() {
	defer close(h.done)
	defer h.cancel()

	cfg := h.p.cfg
	m := newMachine(cfg, h.Job())

	if !h.publish(m.job) {
		h.abandon()
		return
	}

	if err := cfg.validator(h.req.Subject); err != nil {
		h.conclude(m.startFailed(time.Now(), 0, err), m.job)
		return
	}

	body, err := json.Marshal(startBody{
		Subject:               m.job.Subject,
		Options:               h.req.Options,
		CorrelationID:         m.job.CorrelationID,
		PreviousJobID:         h.req.PreviousJobID,
		PreviousCorrelationID: h.req.PreviousCorrelationID,
	})
	if err != nil {
		h.conclude(m.startFailed(time.Now(), 0, err), m.job)
		return
	}

	headers := h.p.headers(m.job.CorrelationID)
	resp := h.p.client.Do(h.ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     h.p.startURL.String(),
		Headers: headers,
		Body:        body,
		Timeout:     cfg.timeout,
		MaxBodySize: cfg.maxResponseSize,
	})
	if h.ctx.Err() != nil {
		h.abandon()
		return
	}

	sr, interval, err := decodeStart(h.p.startURL, resp)
	if err != nil {
		h.conclude(m.startFailed(time.Now(), resp.StatusCode, err), m.job)
		return
	}

	m.started(time.Now(), sr.JobID, sr.PollURL, resp.StatusCode, interval)
	h.logger.Info("job started", "job_id", sr.JobID, "poll_url", sr.PollURL)
	if !h.publish(m.job) {
		h.abandon()
		return
	}

	for {
		resp := h.p.client.Do(h.ctx, transport.Request{
			URL:         m.job.PollURL,
			Headers:     headers,
			Timeout:     cfg.timeout,
			MaxBodySize: cfg.maxResponseSize,
		})
		if h.ctx.Err() != nil {
			h.abandon()
			return
		}

		o := classifyPoll(resp, h.p.statusPath, h.p.payloadPath)
		s := m.observe(time.Now(), o)

		if s.terminal() {
			h.conclude(s, m.job)
			return
		}

		if o.kind == outcomeRecoverable {
			h.logger.Warn("status check failed",
				"job_id", m.job.ID,
				"attempt", m.job.PollAttempts,
				"failures", m.job.ConsecutiveFailures,
				"status_code", o.statusCode,
				"delay", s.delay.String(),
				"error", o.err,
			)
		} else {
			h.logger.Debug("job processing",
				"job_id", m.job.ID,
				"attempt", m.job.PollAttempts,
				"latency_ms", resp.Latency.Milliseconds(),
			)
		}

		if !h.publish(m.job) {
			h.abandon()
			return
		}

		select {
		case <-h.ctx.Done():
			h.abandon()
			return
		case <-cfg.after(s.delay):
		}
	}
}

// publish stores the snapshot and fires progress callbacks.
// Returns false if the handle was cancelled.
func (h *Handle) publish(job Job) bool {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return false
	}
	h.job = job
	h.mu.Unlock()

	for _, cb := range h.p.cfg.progressCallbacks {
		h.invokeSafe("progress", func() { cb(job) })
	}
	return true
}

// conclude records a terminal step and fires the terminal callbacks unless
// the handle was cancelled first. It runs at most once per handle.
func (h *Handle) conclude(s step, job Job) {
	h.mu.Lock()
	if h.cancelled || h.finished {
		h.result = Result{Job: h.job, Err: ErrCancelled}
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.job = job
	h.result = Result{Job: job, Payload: s.payload}
	if s.err != nil {
		h.result.Err = s.err
	}
	h.mu.Unlock()

	if s.err != nil {
		h.logger.Warn("job failed",
			"job_id", job.ID,
			"state", job.State,
			"kind", s.err.Kind,
			"status_code", s.err.StatusCode,
			"attempts", job.PollAttempts,
			"error", s.err.Error(),
		)
	} else {
		h.logger.Info("job completed", "job_id", job.ID, "attempts", job.PollAttempts)
	}

	for _, cb := range h.p.cfg.progressCallbacks {
		h.invokeSafe("progress", func() { cb(job) })
	}

	if s.err != nil {
		for _, cb := range h.p.cfg.errorCallbacks {
			h.invokeSafe("error", func() { cb(job, s.err) })
		}
		return
	}
	for _, cb := range h.p.cfg.completeCallbacks {
		h.invokeSafe("complete", func() { cb(job, s.payload) })
	}
}

// abandon records cancellation. The last published snapshot is kept.
func (h *Handle) abandon() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	h.result = Result{Job: h.job, Err: ErrCancelled}
	h.logger.Debug("job watch cancelled", "job_id", h.job.ID, "state", h.job.State)
}

// invokeSafe calls a user callback with panic recovery.
// Panics are logged but do not propagate.
func (h *Handle) invokeSafe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("callback panicked",
				"callback", name,
				"panic", r,
			)
		}
	}()
	fn()
}
