package jobwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jpalmerr/jobwatch/internal/transport"
)

// Poller submits jobs to a job starter and watches them to completion.
//
// A Poller is immutable after [New] and safe for concurrent use. Each call
// to [Poller.Start] creates an independent [Handle] with its own counters,
// correlation ID and goroutine; handles share only the HTTP connection pool.
//
// The typical lifecycle is:
//
//	p, err := jobwatch.New("https://api.example.com/enrich",
//	    jobwatch.WithCompleteCallback(render),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	h := p.Start(ctx, jobwatch.JobRequest{Subject: "ashwagandha"})
//	defer h.Cancel()
//	res := h.Wait()
type Poller struct {
	startURL    *url.URL
	cfg         *config
	client      *transport.Client
	logger      *slog.Logger
	statusPath  []string
	payloadPath []string
}

// New creates a [Poller] for the job starter at startURL.
//
// startURL must be an absolute http or https URL. Defaults:
//   - Max retry attempts: 3 consecutive failures
//   - Max polls: 60
//   - Initial backoff: 1 second, capped at 4x
//   - Poll interval: 2 seconds unless the start response says otherwise
//   - Request timeout: 10 seconds
//
// Returns an error if the URL or any option is invalid.
func New(startURL string, opts ...Option) (*Poller, error) {
	parsed, err := url.Parse(startURL)
	if err != nil {
		return nil, errors.New("invalid start URL: " + err.Error())
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("start URL must have an http:// or https:// scheme")
	}
	if parsed.Host == "" {
		return nil, errors.New("start URL must have a host")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.backoff == nil {
		cfg.backoff = ExponentialBackoff(cfg.initialBackoff, cfg.backoffCap)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		startURL:    parsed,
		cfg:         cfg,
		client:      transport.NewClient(),
		logger:      logger,
		statusPath:  splitPath(cfg.statusField),
		payloadPath: splitPath(cfg.payloadField),
	}, nil
}

// Start submits req and begins watching the resulting job.
//
// Start is non-blocking: the start call, every poll and every callback run
// on a goroutine owned by the returned [Handle]. Cancelling ctx has the
// same effect as [Handle.Cancel]. If ctx is nil, context.Background() is used.
func (p *Poller) Start(ctx context.Context, req JobRequest) *Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	h := newHandle(p, ctx, req)
	go h.run()
	return h
}

// Run starts a job and blocks until it reaches a terminal state or ctx ends.
//
// Returns the payload on completion. Terminal failures are returned as
// [*Error]; cancellation returns [ErrCancelled].
func (p *Poller) Run(ctx context.Context, req JobRequest) (json.RawMessage, error) {
	h := p.Start(ctx, req)
	defer h.Cancel()

	res := h.Wait()
	if res.Err != nil {
		return nil, fmt.Errorf("job %s: %w", res.Job.CorrelationID, res.Err)
	}
	return res.Payload, nil
}

// StartURL returns the job starter URL.
func (p *Poller) StartURL() string {
	return p.startURL.String()
}

// Close releases idle connections. Running handles are not affected and
// the Poller remains usable.
func (p *Poller) Close() {
	p.client.Close()
}

// headers returns the configured headers plus the correlation header.
func (p *Poller) headers(correlationID string) map[string]string {
	h := make(map[string]string, len(p.cfg.headers)+1)
	for k, v := range p.cfg.headers {
		h[k] = v
	}
	h[CorrelationHeader] = correlationID
	return h
}

// CorrelationHeader carries the correlation ID on every request.
const CorrelationHeader = "X-Correlation-ID"
