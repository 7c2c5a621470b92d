package store

import (
	"encoding/json"
	"time"
)

// JobSnapshot is the latest known state of one attempt in storage.
//
// JobSnapshot is optimized for JSON serialization (used by the REST API,
// SSE and WebSocket feeds). It is decoupled from the poller's own types so
// the feed format can evolve independently.
type JobSnapshot struct {
	// CorrelationID identifies the attempt and is the registry key.
	CorrelationID string `json:"correlation_id"`

	// PreviousCorrelationID links a restart to the attempt it replaced.
	PreviousCorrelationID string `json:"previous_correlation_id,omitempty"`

	// JobID is the server-assigned identifier. Empty until started.
	JobID string `json:"job_id"`

	// Subject is what the job is about.
	Subject string `json:"subject"`

	// State is the client-side state (e.g., "processing", "completed").
	State string `json:"state"`

	ConsecutiveFailures int `json:"consecutive_failures"`
	PollAttempts        int `json:"poll_attempts"`
	LastStatusCode      int `json:"last_status_code"`

	// StartedAt and UpdatedAt bound the attempt so far.
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Error contains the terminal failure message, if any.
	Error *string `json:"error"`

	// ErrorKind classifies Error (e.g., "expired", "repeated_failure").
	ErrorKind string `json:"error_kind,omitempty"`

	// RetryOffered reports whether a fresh attempt may be offered.
	RetryOffered bool `json:"retry_offered"`

	// Payload is the completed job's result.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Store defines the interface for storing and subscribing to job updates.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a snapshot and notifies all subscribers.
	// Snapshots are keyed by CorrelationID; later updates replace earlier ones.
	Update(snapshot JobSnapshot)

	// Get returns the snapshot for correlationID, if present.
	Get(correlationID string) (JobSnapshot, bool)

	// GetAll returns all stored snapshots ordered by start time.
	// The returned slice is a copy; modifications do not affect the store.
	GetAll() []JobSnapshot

	// Subscribe returns a channel that receives snapshot updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan JobSnapshot

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan JobSnapshot)
}
