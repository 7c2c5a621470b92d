// Package mockserver implements a scripted job API for tests and demos.
//
// The server speaks the job starter and status endpoint contracts jobwatch
// expects:
//
//   - POST /jobs: accepts {"subject", "options", "correlationId", ...} and
//     answers 202 with {"jobId", "pollUrl", "pollIntervalMs"}
//   - GET /jobs/{id}: answers with the next scripted [Step] for that job
//
// Each job replays its own copy of the script; once the script is exhausted
// the last step repeats. Every request is recorded so tests can assert on
// correlation IDs and poll counts.
package mockserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-ID"

// Step is one scripted status response.
type Step struct {
	// Code is the HTTP status. Zero means 200.
	Code int

	// Status is written as the body's "status" field when non-empty.
	Status string

	// Payload is written as the body's "payload" field when non-nil.
	Payload any

	// Error is written as the body's "error" field when non-empty.
	Error string

	// Delay is slept before answering.
	Delay time.Duration
}

// Convenience steps.
var (
	Processing  = Step{Status: "processing"}
	ServerError = Step{Code: http.StatusInternalServerError, Error: "internal error"}
	Expired     = Step{Code: http.StatusGone, Error: "job expired"}
	NotFound    = Step{Code: http.StatusNotFound, Error: "job not found"}
	RateLimited = Step{Code: http.StatusTooManyRequests, Error: "slow down"}
	TimedOut    = Step{Code: http.StatusRequestTimeout, Error: "job timed out"}
)

// Completed returns a step reporting completion with payload.
func Completed(payload any) Step {
	return Step{Status: "completed", Payload: payload}
}

// StartRequest is a recorded start call.
type StartRequest struct {
	Subject               string            `json:"subject"`
	Options               map[string]string `json:"options"`
	CorrelationID         string            `json:"correlationId"`
	PreviousJobID         string            `json:"previousJobId"`
	PreviousCorrelationID string            `json:"previousCorrelationId"`

	// HeaderCorrelationID is the correlation header value.
	HeaderCorrelationID string `json:"-"`
}

// Poll is a recorded status call.
type Poll struct {
	JobID         string
	CorrelationID string
}

type job struct {
	script []Step
	next   int
}

// Server is a scripted job API. It implements [http.Handler].
type Server struct {
	mux          *http.ServeMux
	scriptFor    func(StartRequest) []Step
	startCode    int
	startError   string
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	starts []StartRequest
	polls  []Poll
}

// Option configures a [Server].
type Option func(*Server)

// WithScript makes every job replay steps.
func WithScript(steps ...Step) Option {
	return func(s *Server) {
		s.scriptFor = func(StartRequest) []Step { return steps }
	}
}

// WithScriptFunc chooses a script per start request.
func WithScriptFunc(fn func(StartRequest) []Step) Option {
	return func(s *Server) {
		s.scriptFor = fn
	}
}

// WithStartFailure makes every start call fail with code and message.
func WithStartFailure(code int, message string) Option {
	return func(s *Server) {
		s.startCode = code
		s.startError = message
	}
}

// WithPollInterval sets the pollIntervalMs advertised to clients.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pollInterval = d
	}
}

// WithLogger sets the logger used for request logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a [Server]. Without a script every job stays processing.
func New(opts ...Option) *Server {
	s := &Server{
		scriptFor:    func(StartRequest) []Step { return []Step{Processing} },
		pollInterval: time.Millisecond,
		logger:       slog.Default(),
		jobs:         make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /jobs", s.handleStart)
	s.mux.HandleFunc("GET /jobs/{id}", s.handlePoll)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Starts returns a copy of the recorded start calls.
func (s *Server) Starts() []StartRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StartRequest(nil), s.starts...)
}

// Polls returns a copy of the recorded status calls.
func (s *Server) Polls() []Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Poll(nil), s.polls...)
}

// PollCount returns the number of status calls received.
func (s *Server) PollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.polls)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"}, s.logger)
		return
	}
	req.HeaderCorrelationID = r.Header.Get(correlationHeader)

	s.mu.Lock()
	s.starts = append(s.starts, req)
	if s.startCode != 0 {
		code, msg := s.startCode, s.startError
		s.mu.Unlock()
		writeJSON(w, code, map[string]string{"error": msg}, s.logger)
		return
	}
	id := uuid.NewString()
	s.jobs[id] = &job{script: s.scriptFor(req)}
	s.mu.Unlock()

	s.logger.Debug("job accepted", "job_id", id, "subject", req.Subject, "correlation_id", req.CorrelationID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":          id,
		"pollUrl":        "/jobs/" + id,
		"pollIntervalMs": s.pollInterval.Milliseconds(),
	}, s.logger)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	s.polls = append(s.polls, Poll{JobID: id, CorrelationID: r.Header.Get(correlationHeader)})
	j, ok := s.jobs[id]
	var st Step
	if ok {
		st = Processing
		if len(j.script) > 0 {
			idx := j.next
			if idx >= len(j.script) {
				idx = len(j.script) - 1
			}
			st = j.script[idx]
			j.next++
		}
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"}, s.logger)
		return
	}

	if st.Delay > 0 {
		select {
		case <-time.After(st.Delay):
		case <-r.Context().Done():
			return
		}
	}

	code := st.Code
	if code == 0 {
		code = http.StatusOK
	}
	body := map[string]any{"jobId": id}
	if st.Status != "" {
		body["status"] = st.Status
	}
	if st.Payload != nil {
		body["payload"] = st.Payload
	}
	if st.Error != "" {
		body["error"] = st.Error
	}
	writeJSON(w, code, body, s.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}
