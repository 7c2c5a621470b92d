package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/jobwatch/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore implements store.Store for testing.
type mockStore struct {
	mu          sync.RWMutex
	jobs        []store.JobSnapshot
	subscribers map[chan store.JobSnapshot]struct{}
	subMu       sync.Mutex
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:        []store.JobSnapshot{},
		subscribers: make(map[chan store.JobSnapshot]struct{}),
	}
}

func (m *mockStore) Update(snap store.JobSnapshot) {
	m.mu.Lock()
	// replace if exists, otherwise append
	found := false
	for i, j := range m.jobs {
		if j.CorrelationID == snap.CorrelationID {
			m.jobs[i] = snap
			found = true
			break
		}
	}
	if !found {
		m.jobs = append(m.jobs, snap)
	}
	m.mu.Unlock()

	m.subMu.Lock()
	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
	m.subMu.Unlock()
}

func (m *mockStore) Get(correlationID string) (store.JobSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.CorrelationID == correlationID {
			return j, true
		}
	}
	return store.JobSnapshot{}, false
}

func (m *mockStore) GetAll() []store.JobSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]store.JobSnapshot, len(m.jobs))
	copy(result, m.jobs)
	return result
}

func (m *mockStore) Subscribe() <-chan store.JobSnapshot {
	ch := make(chan store.JobSnapshot, 100)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

func (m *mockStore) Unsubscribe(ch <-chan store.JobSnapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for c := range m.subscribers {
		if c == ch {
			delete(m.subscribers, c)
			close(c)
			return
		}
	}
}

func (m *mockStore) subscriberCount() int {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return len(m.subscribers)
}

// --- REST API ---

func TestHandleJobs(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.JobSnapshot{CorrelationID: "corr-1", Subject: "zinc", State: "processing"})
	ms.Update(store.JobSnapshot{CorrelationID: "corr-2", Subject: "iron", State: "completed"})

	srv := NewServer(ms, 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var jobs []store.JobSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[1].Subject != "iron" || jobs[1].State != "completed" {
		t.Errorf("jobs[1] = %+v", jobs[1])
	}
}

func TestHandleJobs_MethodNotAllowed(t *testing.T) {
	srv := NewServer(newMockStore(), 0, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleJob(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.JobSnapshot{CorrelationID: "corr-1", Subject: "zinc", State: "completed", Payload: json.RawMessage(`{"value":42}`)})

	srv := NewServer(ms, 0, testLogger())

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{"known", "/api/jobs/corr-1", http.StatusOK},
		{"unknown", "/api/jobs/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var snap store.JobSnapshot
			if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if string(snap.Payload) != `{"value":42}` {
				t.Errorf("Payload = %s", snap.Payload)
			}
		})
	}
}

// --- SSE ---

func TestHandleSSE_BasicFlow(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.JobSnapshot{CorrelationID: "corr-1", Subject: "zinc"})
	ms.Update(store.JobSnapshot{CorrelationID: "corr-2", Subject: "iron"})

	srv := NewServer(ms, 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "zinc") || !strings.Contains(body, "iron") {
		t.Errorf("response should contain initial snapshots, got: %s", body)
	}
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	ms := newMockStore()
	srv := NewServer(ms, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)

	ms.Update(store.JobSnapshot{CorrelationID: "corr-new", Subject: "magnesium", State: "processing"})

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 1 || events[0].Subject != "magnesium" {
		t.Errorf("events = %+v, want one magnesium update", events)
	}
}

func TestHandleSSE_ClientDisconnect(t *testing.T) {
	ms := newMockStore()
	srv := NewServer(ms, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after client disconnect")
	}

	if n := ms.subscriberCount(); n != 0 {
		t.Errorf("subscribers after disconnect = %d, want 0", n)
	}
}

func TestHandleSSE_NoGoroutineLeaks(t *testing.T) {
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	before := runtime.NumGoroutine()

	ms := newMockStore()
	srv := NewServer(ms, 0, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
			srv.handleSSE(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	runtime.GC()
	time.Sleep(200 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after > before+2 { // small tolerance for runtime variance
		t.Errorf("potential goroutine leak: before=%d, after=%d", before, after)
	}
}

func TestHandleSSE_ConcurrentClientsShutdown(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.JobSnapshot{CorrelationID: "corr-1"})

	srv := NewServer(ms, 0, testLogger())
	serverCtx, serverCancel := context.WithCancel(context.Background())

	numClients := 10
	var wg sync.WaitGroup
	started := make(chan struct{})
	var startedCount atomic.Int32

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(serverCtx)
			rec := httptest.NewRecorder()

			// use Add's return value to ensure only one goroutine closes the channel
			if startedCount.Add(1) == int32(numClients) {
				close(started)
			}

			srv.handleSSE(rec, req)
		}()
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("clients did not start in time")
	}

	time.Sleep(100 * time.Millisecond)
	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all handlers exited after shutdown")
	}
}

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := NewServer(newMockStore(), 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	w := &nonFlushWriter{header: make(http.Header)}

	srv.handleSSE(w, req)

	if w.statusCode != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.statusCode)
	}
}

type nonFlushWriter struct {
	header     http.Header
	statusCode int
	body       []byte
}

func (n *nonFlushWriter) Header() http.Header {
	return n.header
}

func (n *nonFlushWriter) Write(b []byte) (int, error) {
	n.body = append(n.body, b...)
	return len(b), nil
}

func (n *nonFlushWriter) WriteHeader(statusCode int) {
	n.statusCode = statusCode
}

func TestHandleSSE_Headers(t *testing.T) {
	srv := NewServer(newMockStore(), 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	expectedHeaders := map[string]string{
		"Content-Type":                "text/event-stream",
		"Cache-Control":               "no-cache",
		"Connection":                  "keep-alive",
		"Access-Control-Allow-Origin": "*",
	}

	for key, expected := range expectedHeaders {
		if got := rec.Header().Get(key); got != expected {
			t.Errorf("header %s = %q, want %q", key, got, expected)
		}
	}
}

func TestHandleSSE_JSONFormat(t *testing.T) {
	ms := newMockStore()
	errMsg := "job expired"
	ms.Update(store.JobSnapshot{
		CorrelationID:       "corr-1",
		JobID:               "job-1",
		Subject:             "zinc",
		State:               "error",
		ConsecutiveFailures: 0,
		PollAttempts:        4,
		LastStatusCode:      410,
		UpdatedAt:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Error:               &errMsg,
		ErrorKind:           "expired",
		RetryOffered:        true,
	})

	srv := NewServer(ms, 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1: %s", len(events), rec.Body.String())
	}

	got := events[0]
	if got.CorrelationID != "corr-1" || got.State != "error" || got.LastStatusCode != 410 {
		t.Errorf("snapshot = %+v", got)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Errorf("Error = %v, want %q", got.Error, errMsg)
	}
	if !got.RetryOffered {
		t.Error("RetryOffered = false, want true")
	}
}

// --- Integration tests for shutdown behavior ---
//
// These tests use httptest.Server to create real HTTP connections that support
// write deadlines. Mock ResponseWriters don't support SetWriteDeadline.

func TestHandleSSE_ServerShutdownIntegration(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.JobSnapshot{CorrelationID: "corr-1", Subject: "zinc"})

	srv := NewServer(ms, 0, testLogger())
	serverCtx, serverCancel := context.WithCancel(context.Background())

	// derive request context from server context (simulates BaseContext)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.handleSSE(w, r.WithContext(serverCtx))
	})

	ts := httptest.NewServer(handler)
	defer ts.Close()

	connDone := make(chan error, 1)
	go func() {
		resp, err := ts.Client().Get(ts.URL)
		if err != nil {
			connDone <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()

		// read until connection closes
		buf := make([]byte, 1024)
		for {
			if _, err := resp.Body.Read(buf); err != nil {
				connDone <- nil
				return
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	serverCancel()

	select {
	case <-connDone:
	case <-time.After(3 * time.Second):
		t.Fatal("SSE connection did not close after server shutdown")
	}
}

func parseSSEEvents(body string) []store.JobSnapshot {
	var results []store.JobSnapshot
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap store.JobSnapshot
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err == nil {
			results = append(results, snap)
		}
	}
	return results
}

// --- Server Start ---

func TestStart_AvailablePort(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.JobSnapshot{CorrelationID: "corr-1", Subject: "zinc"})

	// port 0 = OS assigns available port
	srv := NewServer(ms, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() on available port returned error: %v", err)
	}
	if srv.Addr() == nil {
		t.Fatal("Addr() = nil after Start")
	}

	port := srv.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/jobs", port))
	if err != nil {
		t.Fatalf("GET /api/jobs: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var jobs []store.JobSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(jobs))
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	srv := NewServer(newMockStore(), port, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

func TestStart_InvalidPort_ReturnsError(t *testing.T) {
	srv := NewServer(newMockStore(), -1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() with invalid port should return error")
	}
}

// --- Benchmark ---

func BenchmarkHandleSSE_SingleClient(b *testing.B) {
	ms := newMockStore()
	for i := 0; i < 10; i++ {
		ms.Update(store.JobSnapshot{CorrelationID: "corr-" + string(rune('A'+i)), State: "processing"})
	}

	srv := NewServer(ms, 0, testLogger())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
		srv.handleSSE(httptest.NewRecorder(), req)
		cancel()
	}
}
