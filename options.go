package jobwatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jpalmerr/jobwatch/internal/transport"
)

const (
	defaultMaxRetryAttempts = 3
	defaultMaxPolls         = 60
	defaultInitialBackoff   = time.Second
	defaultBackoffCap       = 2
	defaultPollInterval     = 2 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultStatusField      = "status"
	defaultPayloadField     = "payload"
)

// config holds mutable state during Poller construction.
type config struct {
	maxRetryAttempts int
	maxPolls         int
	initialBackoff   time.Duration
	backoffCap       int
	backoff          BackoffFunc
	pollInterval     time.Duration
	timeout          time.Duration
	maxResponseSize  int64
	headers          map[string]string
	logger           *slog.Logger
	statusField      string
	payloadField     string
	validator        func(string) error

	progressCallbacks []func(Job)
	completeCallbacks []func(Job, json.RawMessage)
	errorCallbacks    []func(Job, *Error)

	// after schedules the next poll; replaced in tests to observe delays.
	after func(time.Duration) <-chan time.Time
}

func defaultConfig() *config {
	return &config{
		maxRetryAttempts: defaultMaxRetryAttempts,
		maxPolls:         defaultMaxPolls,
		initialBackoff:   defaultInitialBackoff,
		backoffCap:       defaultBackoffCap,
		pollInterval:     defaultPollInterval,
		timeout:          defaultRequestTimeout,
		maxResponseSize:  transport.DefaultMaxBodySize,
		headers:          make(map[string]string),
		statusField:      defaultStatusField,
		payloadField:     defaultPayloadField,
		validator:        ValidateSubject,
		after:            time.After,
	}
}

// Option is a function that configures a [Poller] during construction.
//
// Option implements the functional options pattern. Options return an
// error if validation fails, which [New] passes back to the caller.
type Option func(*config) error

// WithMaxRetryAttempts sets how many consecutive recoverable poll failures
// are tolerated. Reaching the limit ends the job in [StateError].
// Defaults to 3.
//
// Returns an error if n is less than 1.
func WithMaxRetryAttempts(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("max retry attempts must be at least 1")
		}
		cfg.maxRetryAttempts = n
		return nil
	}
}

// WithMaxPolls sets the total poll budget for one attempt. Exhausting it
// while the job is still processing ends the job in [StateTimeout].
// Defaults to 60.
//
// Returns an error if n is less than 1.
func WithMaxPolls(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("max polls must be at least 1")
		}
		cfg.maxPolls = n
		return nil
	}
}

// WithInitialBackoff sets the base of the exponential backoff applied after
// failed polls. Defaults to 1 second.
//
// Returns an error if the duration is zero or negative.
func WithInitialBackoff(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("initial backoff must be positive")
		}
		cfg.initialBackoff = d
		return nil
	}
}

// WithBackoffCap bounds the backoff exponent. With the default of 2 the
// delay never exceeds four times the initial backoff.
//
// Returns an error if n is negative or larger than 16.
func WithBackoffCap(n int) Option {
	return func(cfg *config) error {
		if n < 0 || n > 16 {
			return errors.New("backoff cap must be between 0 and 16")
		}
		cfg.backoffCap = n
		return nil
	}
}

// WithBackoff replaces the backoff function entirely. When set,
// [WithInitialBackoff] and [WithBackoffCap] are ignored.
//
// Returns an error if fn is nil.
func WithBackoff(fn BackoffFunc) Option {
	return func(cfg *config) error {
		if fn == nil {
			return errors.New("backoff function cannot be nil")
		}
		cfg.backoff = fn
		return nil
	}
}

// WithPollInterval sets the delay between successful polls. A positive
// pollIntervalMs in the start response takes precedence. Defaults to 2 seconds.
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithTimeout sets the per-request HTTP timeout for start and poll calls.
// A poll that times out counts as a recoverable failure. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMaxResponseSize limits the size of start and status response bodies.
// A completed job whose status response exceeds the limit ends in
// [StateError] with [KindResponseTooLarge]. Defaults to 1MB.
//
// Returns an error if n is zero or negative.
func WithMaxResponseSize(n int64) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errors.New("max response size must be positive")
		}
		cfg.maxResponseSize = n
		return nil
	}
}

// WithHeaders adds custom HTTP headers to start and poll requests.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	p, err := jobwatch.New(url,
//	    jobwatch.WithHeaders("Authorization", "Bearer token123"),
//	)
//
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) Option {
	return func(cfg *config) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithStatusField sets the dot-notation path of the job status in poll
// responses. Defaults to "status".
func WithStatusField(path string) Option {
	return func(cfg *config) error {
		if path == "" {
			return errors.New("status field cannot be empty")
		}
		cfg.statusField = path
		return nil
	}
}

// WithPayloadField sets the dot-notation path of the result payload in
// completed poll responses. Defaults to "payload".
//
// Example:
//
//	p, err := jobwatch.New(url,
//	    jobwatch.WithStatusField("data.status"),
//	    jobwatch.WithPayloadField("data.recommendation"),
//	)
func WithPayloadField(path string) Option {
	return func(cfg *config) error {
		if path == "" {
			return errors.New("payload field cannot be empty")
		}
		cfg.payloadField = path
		return nil
	}
}

// WithSubjectValidator replaces [ValidateSubject]. Pass a function that
// always returns nil to disable validation.
//
// Returns an error if fn is nil.
func WithSubjectValidator(fn func(subject string) error) Option {
	return func(cfg *config) error {
		if fn == nil {
			return errors.New("subject validator cannot be nil")
		}
		cfg.validator = fn
		return nil
	}
}

// WithProgressCallback registers a function called on every state
// transition and after every poll attempt with the current [Job] snapshot.
//
// Callbacks run synchronously on the handle's goroutine and must not
// block. Panics are recovered and logged. Nil callbacks are ignored.
func WithProgressCallback(cb func(Job)) Option {
	return func(cfg *config) error {
		if cb == nil {
			return nil
		}
		cfg.progressCallbacks = append(cfg.progressCallbacks, cb)
		return nil
	}
}

// WithCompleteCallback registers a function called exactly once when a job
// reaches [StateCompleted]. It never fires for a cancelled handle.
//
// Nil callbacks are ignored.
func WithCompleteCallback(cb func(Job, json.RawMessage)) Option {
	return func(cfg *config) error {
		if cb == nil {
			return nil
		}
		cfg.completeCallbacks = append(cfg.completeCallbacks, cb)
		return nil
	}
}

// WithErrorCallback registers a function called exactly once when a job
// reaches [StateError] or [StateTimeout]. It never fires for a cancelled
// handle and never fires together with a complete callback.
//
// Example:
//
//	p, err := jobwatch.New(url,
//	    jobwatch.WithErrorCallback(func(job jobwatch.Job, e *jobwatch.Error) {
//	        if e.ContactSupport() {
//	            log.Printf("job %s keeps failing, contact support", job.CorrelationID)
//	        }
//	    }),
//	)
//
// Nil callbacks are ignored.
func WithErrorCallback(cb func(Job, *Error)) Option {
	return func(cfg *config) error {
		if cb == nil {
			return nil
		}
		cfg.errorCallbacks = append(cfg.errorCallbacks, cb)
		return nil
	}
}
