package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

// freeAddr returns a loopback address that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestRunMockServer_ServesAndShutsDown(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := executeCmdContext(t, ctx, "mock-server", "--addr", addr, "--poll-interval", "10ms")
		done <- result{output, err}
	}()

	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(5 * time.Second)
	var started bool
	for time.Now().Before(deadline) {
		resp, err := client.Post("http://"+addr+"/jobs", "application/json", strings.NewReader(`{"subject":"magnesium","correlationId":"c-1"}`))
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				started = true
				break
			}
			t.Fatalf("POST /jobs status = %d, want 2xx", resp.StatusCode)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !started {
		cancel()
		t.Fatal("mock server did not accept a job within 5s")
	}

	cancel()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("mock-server command error = %v", res.err)
		}
		if !strings.Contains(res.output, "Mock job API listening on http://"+addr+"/jobs") {
			t.Errorf("output missing listen line\nGot: %s", res.output)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("mock-server did not shut down after cancel")
	}
}

func TestRunMockServer_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	_, err = executeCmd(t, "mock-server", "--addr", ln.Addr().String())
	if err == nil || !strings.Contains(err.Error(), "failed to listen") {
		t.Errorf("error = %v, want 'failed to listen'", err)
	}
}
