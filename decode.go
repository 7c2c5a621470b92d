package jobwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpalmerr/jobwatch/internal/transport"
)

// startResponse is the job starter's success body.
type startResponse struct {
	JobID          string `json:"jobId"`
	PollURL        string `json:"pollUrl"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
}

// startBody is what the poller sends to the job starter.
type startBody struct {
	Subject               string            `json:"subject"`
	Options               map[string]string `json:"options,omitempty"`
	CorrelationID         string            `json:"correlationId"`
	PreviousJobID         string            `json:"previousJobId,omitempty"`
	PreviousCorrelationID string            `json:"previousCorrelationId,omitempty"`
}

// decodeStart validates a start response and resolves the poll URL against
// the start URL. An empty pollUrl defaults to <startURL>/<jobId>.
func decodeStart(startURL *url.URL, resp transport.Response) (startResponse, time.Duration, error) {
	if resp.Error != nil {
		return startResponse{}, 0, resp.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return startResponse{}, 0, fmt.Errorf("unexpected status %d%s", resp.StatusCode, serverMessage(resp.Body))
	}

	var sr startResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return startResponse{}, 0, fmt.Errorf("invalid start response: %w", err)
	}
	if sr.JobID == "" {
		return startResponse{}, 0, errors.New("start response has no jobId")
	}

	if sr.PollURL == "" {
		sr.PollURL = strings.TrimSuffix(startURL.Path, "/") + "/" + url.PathEscape(sr.JobID)
	}
	ref, err := url.Parse(sr.PollURL)
	if err != nil {
		return startResponse{}, 0, fmt.Errorf("invalid pollUrl: %w", err)
	}
	sr.PollURL = startURL.ResolveReference(ref).String()

	var interval time.Duration
	if sr.PollIntervalMs > 0 {
		interval = time.Duration(sr.PollIntervalMs) * time.Millisecond
	}
	return sr, interval, nil
}

// classifyPoll maps one status response to a state machine event.
//
// Status code mapping:
//   - 408: timeout
//   - 410: expired
//   - 404: not found
//   - 429: rate limited
//   - 2xx: decided by the body's status field
//   - body over the size limit: too large
//   - anything else, or a transport error: recoverable
func classifyPoll(resp transport.Response, statusPath, payloadPath []string) outcome {
	o := outcome{statusCode: resp.StatusCode}

	if errors.Is(resp.Error, transport.ErrBodyTooLarge) {
		o.kind = outcomeTooLarge
		o.err = resp.Error
		return o
	}
	if resp.Error != nil {
		o.kind = outcomeRecoverable
		o.err = resp.Error
		return o
	}

	switch resp.StatusCode {
	case http.StatusRequestTimeout:
		o.kind = outcomeTimeout
		o.message = errorText(resp.Body)
		return o
	case http.StatusGone:
		o.kind = outcomeExpired
		o.message = errorText(resp.Body)
		return o
	case http.StatusNotFound:
		o.kind = outcomeNotFound
		o.message = errorText(resp.Body)
		return o
	case http.StatusTooManyRequests:
		o.kind = outcomeRateLimited
		o.message = errorText(resp.Body)
		return o
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.kind = outcomeRecoverable
		o.err = fmt.Errorf("unexpected status %d%s", resp.StatusCode, serverMessage(resp.Body))
		return o
	}

	var data interface{}
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		o.kind = outcomeRecoverable
		o.err = fmt.Errorf("invalid status response: %w", err)
		return o
	}

	status, _ := lookupPath(data, statusPath).(string)
	switch strings.ToLower(status) {
	case "completed", "complete", "done", "succeeded":
		payload := lookupPath(data, payloadPath)
		if payload == nil {
			o.kind = outcomeRecoverable
			o.err = errors.New("job reported completed without a payload")
			return o
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			o.kind = outcomeRecoverable
			o.err = fmt.Errorf("failed to re-encode payload: %w", err)
			return o
		}
		o.kind = outcomeCompleted
		o.payload = raw
	case "processing", "pending", "queued", "running", "started":
		o.kind = outcomeProcessing
	case "failed", "error":
		o.kind = outcomeFailed
		o.message = errorText(resp.Body)
	default:
		o.kind = outcomeRecoverable
		o.err = fmt.Errorf("unknown job status %q", status)
	}
	return o
}

// splitPath turns a dot-notation field path into its parts.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// lookupPath walks a decoded JSON value using dot-notation parts.
// Returns nil if any part is missing.
func lookupPath(data interface{}, parts []string) interface{} {
	current := data
	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return current
}

// errorText extracts a human-readable error from a JSON error body.
// Looks at "error" then "message"; returns "" when neither is a string.
func errorText(body []byte) string {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message"} {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func serverMessage(body []byte) string {
	if msg := errorText(body); msg != "" {
		return ": " + msg
	}
	return ""
}
