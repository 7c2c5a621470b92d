// Package jobwatch drives asynchronous server-side jobs to completion.
//
// A job is submitted to a job starter endpoint, which answers with a job
// identifier and a status URL. jobwatch then polls that URL until it sees
// a terminal state, bounding both the number of consecutive failures and
// the total number of polls, and backing off exponentially between failed
// polls. The caller receives incremental progress and exactly one terminal
// callback.
//
// # Quick Start
//
//	p, err := jobwatch.New("https://api.example.com/enrich",
//	    jobwatch.WithCompleteCallback(func(job jobwatch.Job, payload json.RawMessage) {
//	        fmt.Printf("%s: %s\n", job.Subject, payload)
//	    }),
//	    jobwatch.WithErrorCallback(func(job jobwatch.Job, e *jobwatch.Error) {
//	        fmt.Printf("%s failed: %v (retry offered: %v)\n", job.Subject, e, e.RetryOffered())
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	h := p.Start(ctx, jobwatch.JobRequest{Subject: "ashwagandha"})
//	defer h.Cancel()
//	h.Wait()
//
// # States
//
// Every attempt moves through [StateStarting] and [StateProcessing] and ends
// in exactly one of [StateCompleted], [StateError] or [StateTimeout], unless
// it is cancelled first. A cancelled handle fires no further callbacks.
//
// # Failures
//
// Transport errors, 5xx responses and unrecognised statuses are recoverable:
// they count towards the consecutive-failure limit ([WithMaxRetryAttempts])
// and the next poll waits [ExponentialBackoff] of the failure count. Any
// successful poll resets the count. Explicit timeout (408), expired (410),
// not found (404) and rate limited (429) responses end the attempt
// immediately without consuming the retry budget. Running out of polls
// ([WithMaxPolls]) while the server still reports processing ends the
// attempt in [StateTimeout].
//
// Terminal failures are reported as [*Error]; use [Error.RetryOffered] to
// decide whether to offer a fresh attempt via [Handle.Restart].
//
// # Architecture
//
// jobwatch consists of several internal packages (under internal/):
//
//   - internal/transport: pooled HTTP client with per-request timeouts
//   - internal/store: in-memory job registry with pub/sub
//   - internal/server: REST, Server-Sent Events and WebSocket progress feed
//   - internal/history: SQLite record of finished attempts
//   - internal/mockserver: scripted job API for tests and demos
//
// The config package and the jobwatch command build on the SDK to watch
// jobs described in a YAML file.
package jobwatch
