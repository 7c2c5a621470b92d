package jobwatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// outcomeKind classifies a single poll response.
type outcomeKind int

const (
	outcomeProcessing outcomeKind = iota
	outcomeCompleted
	outcomeRecoverable
	outcomeTimeout
	outcomeExpired
	outcomeNotFound
	outcomeRateLimited
	outcomeFailed
	outcomeTooLarge
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeProcessing:
		return "processing"
	case outcomeCompleted:
		return "completed"
	case outcomeRecoverable:
		return "recoverable"
	case outcomeTimeout:
		return "timeout"
	case outcomeExpired:
		return "expired"
	case outcomeNotFound:
		return "not_found"
	case outcomeRateLimited:
		return "rate_limited"
	case outcomeFailed:
		return "failed"
	case outcomeTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// outcome is the event fed into the state machine for one poll attempt.
type outcome struct {
	kind       outcomeKind
	statusCode int
	payload    json.RawMessage
	message    string // server-supplied error text, if any
	err        error  // cause of a recoverable failure
}

// step is the machine's decision after an event.
type step struct {
	state   State
	delay   time.Duration // wait before the next poll; only meaningful when non-terminal
	payload json.RawMessage
	err     *Error
}

func (s step) terminal() bool {
	return s.state.IsTerminal()
}

// machine is the poll state machine. It performs no I/O and owns the Job
// snapshot; the handle goroutine is its only caller.
type machine struct {
	maxRetryAttempts int
	maxPolls         int
	pollInterval     time.Duration
	backoff          BackoffFunc

	job   Job
	final *step
}

func newMachine(cfg *config, job Job) *machine {
	job.State = StateStarting
	return &machine{
		maxRetryAttempts: cfg.maxRetryAttempts,
		maxPolls:         cfg.maxPolls,
		pollInterval:     cfg.pollInterval,
		backoff:          cfg.backoff,
		job:              job,
	}
}

// startFailed records a failed start call. No polling follows.
func (m *machine) startFailed(now time.Time, statusCode int, err error) step {
	if m.final != nil {
		return *m.final
	}
	m.job.LastStatusCode = statusCode
	return m.terminate(now, step{state: StateError, err: newStartError(statusCode, err)})
}

// started records a successful start call. interval overrides the
// configured base poll interval when positive.
func (m *machine) started(now time.Time, jobID, pollURL string, statusCode int, interval time.Duration) step {
	if m.final != nil {
		return *m.final
	}
	m.job.ID = jobID
	m.job.PollURL = pollURL
	m.job.LastStatusCode = statusCode
	if interval > 0 {
		m.pollInterval = interval
	}
	m.job.State = StateProcessing
	m.job.UpdatedAt = now
	return step{state: StateProcessing}
}

// observe applies the outcome of one poll attempt.
func (m *machine) observe(now time.Time, o outcome) step {
	if m.final != nil {
		return *m.final
	}

	m.job.PollAttempts++
	m.job.LastStatusCode = o.statusCode
	m.job.UpdatedAt = now

	switch o.kind {
	case outcomeCompleted:
		m.job.ConsecutiveFailures = 0
		return m.terminate(now, step{state: StateCompleted, payload: o.payload})

	case outcomeProcessing:
		m.job.ConsecutiveFailures = 0
		if m.budgetExhausted() {
			return m.terminate(now, step{state: StateTimeout, err: m.budgetError(o)})
		}
		return step{state: StateProcessing, delay: m.pollInterval}

	case outcomeRecoverable:
		m.job.ConsecutiveFailures++
		if m.job.ConsecutiveFailures >= m.maxRetryAttempts {
			return m.terminate(now, step{state: StateError, err: &Error{
				Kind:       KindRepeatedFailure,
				State:      StateError,
				Message:    fmt.Sprintf("job status check failed %d times in a row", m.job.ConsecutiveFailures),
				StatusCode: o.statusCode,
				Failures:   m.job.ConsecutiveFailures,
				Err:        o.err,
			}})
		}
		if m.budgetExhausted() {
			return m.terminate(now, step{state: StateTimeout, err: m.budgetError(o)})
		}
		return step{state: StateProcessing, delay: m.backoff(m.job.ConsecutiveFailures)}

	case outcomeTimeout:
		return m.terminate(now, step{state: StateTimeout, err: m.serverError(o, KindTimeout, StateTimeout, "job timed out on the server")})

	case outcomeExpired:
		return m.terminate(now, step{state: StateError, err: m.serverError(o, KindExpired, StateError, "job expired")})

	case outcomeNotFound:
		return m.terminate(now, step{state: StateError, err: m.serverError(o, KindNotFound, StateError, "job not found")})

	case outcomeRateLimited:
		return m.terminate(now, step{state: StateError, err: m.serverError(o, KindRateLimited, StateError, "too many requests")})

	case outcomeTooLarge:
		return m.terminate(now, step{state: StateError, err: &Error{
			Kind:       KindResponseTooLarge,
			State:      StateError,
			Message:    "job status response too large",
			StatusCode: o.statusCode,
			Failures:   m.job.ConsecutiveFailures,
			Err:        o.err,
		}})

	default: // outcomeFailed
		return m.terminate(now, step{state: StateError, err: m.serverError(o, KindFailed, StateError, "job failed")})
	}
}

func (m *machine) budgetExhausted() bool {
	return m.job.PollAttempts >= m.maxPolls
}

func (m *machine) budgetError(o outcome) *Error {
	return &Error{
		Kind:       KindBudgetExhausted,
		State:      StateTimeout,
		Message:    fmt.Sprintf("job still processing after %d status checks", m.job.PollAttempts),
		StatusCode: o.statusCode,
		Failures:   m.job.ConsecutiveFailures,
	}
}

func (m *machine) serverError(o outcome, kind ErrorKind, state State, msg string) *Error {
	if o.message != "" {
		msg = msg + ": " + o.message
	}
	return &Error{
		Kind:       kind,
		State:      state,
		Message:    msg,
		StatusCode: o.statusCode,
		Failures:   m.job.ConsecutiveFailures,
	}
}

func (m *machine) terminate(now time.Time, s step) step {
	m.job.State = s.state
	m.job.UpdatedAt = now
	m.final = &s
	return s
}
