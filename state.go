package jobwatch

import (
	"encoding/json"
	"time"
)

// State represents the client-side view of a job's lifecycle.
//
// State is a string type that can hold one of five predefined values.
// [StateStarting] and [StateProcessing] are transient; [StateCompleted],
// [StateError] and [StateTimeout] are terminal and absorbing: once a job
// reaches one of them no further transitions occur.
//
// The client-side vocabulary is deliberately smaller than whatever the job
// server reports. Server statuses are mapped onto these values when a poll
// response is decoded.
type State string

const (
	// StateStarting indicates the start request has been issued but not yet answered.
	StateStarting State = "starting"

	// StateProcessing indicates the server accepted the job and polling is in progress.
	StateProcessing State = "processing"

	// StateCompleted indicates the server returned the finished payload.
	StateCompleted State = "completed"

	// StateError indicates the job failed permanently or the retry budget ran out.
	StateError State = "error"

	// StateTimeout indicates the server signalled a timeout or the poll
	// budget was exhausted while the job was still processing. The job may
	// simply need more time.
	StateTimeout State = "timeout"
)

// String returns the string representation of the state.
// This implements the fmt.Stringer interface.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions can leave s.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateError, StateTimeout:
		return true
	default:
		return false
	}
}

// Job is a point-in-time snapshot of one logical attempt.
//
// Job values are copies; the poller owns the live state exclusively and
// hands out snapshots through callbacks and [Handle.Job].
type Job struct {
	// ID is the server-assigned job identifier. Empty until the start call succeeds.
	ID string `json:"job_id"`

	// CorrelationID is generated once per logical attempt and sent with the
	// start call and every poll. It is used for tracing only.
	CorrelationID string `json:"correlation_id"`

	// PreviousCorrelationID links a restarted attempt to the one it replaces.
	PreviousCorrelationID string `json:"previous_correlation_id,omitempty"`

	// Subject is the (sanitized) subject the job was requested for.
	Subject string `json:"subject"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// ConsecutiveFailures counts recoverable poll failures since the last
	// successful poll.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// PollAttempts counts every poll issued, whatever its outcome.
	PollAttempts int `json:"poll_attempts"`

	// LastStatusCode is the HTTP status of the most recent response.
	// Zero if no response has been received yet or the last request failed
	// before a response arrived.
	LastStatusCode int `json:"last_status_code"`

	// PollURL is the absolute status URL returned by the start call.
	PollURL string `json:"poll_url,omitempty"`

	// StartedAt is when the start request was issued.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is when the snapshot last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// JobRequest describes the work to submit to the job starter.
type JobRequest struct {
	// Subject identifies what the job is about, e.g. a supplement name.
	Subject string

	// Options are passed through to the job starter unchanged.
	Options map[string]string

	// PreviousJobID and PreviousCorrelationID reference an earlier attempt
	// for the server's own diagnostics. They do not influence polling.
	PreviousJobID         string
	PreviousCorrelationID string
}

// Result is the final outcome of a [Handle].
type Result struct {
	// Job is the snapshot at the moment the handle finished.
	Job Job

	// Payload holds the completed job's payload. Nil unless Job.State is
	// [StateCompleted].
	Payload json.RawMessage

	// Err is nil on completion, an [*Error] for terminal failures and
	// [ErrCancelled] when the handle was torn down before reaching a
	// terminal state.
	Err error
}
