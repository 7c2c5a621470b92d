package main

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jpalmerr/jobwatch/internal/mockserver"
)

// exampleScript follows the demo script, except "melatonin" jobs expire on
// their first attempt so the restart path can be seen.
func exampleScript(req mockserver.StartRequest) []mockserver.Step {
	if strings.EqualFold(req.Subject, "melatonin") && req.PreviousCorrelationID == "" {
		return []mockserver.Step{mockserver.Processing, mockserver.Expired}
	}
	return mockserver.DemoScript(req)
}

// StartMockJobAPI serves the scripted job API on addr. It blocks.
func StartMockJobAPI(addr string) {
	mock := mockserver.New(
		mockserver.WithScriptFunc(exampleScript),
		mockserver.WithPollInterval(300*time.Millisecond),
		mockserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mock,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("mock job API error", "error", err)
	}
}
