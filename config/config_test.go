package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	yaml := `
start_url: https://jobs.example.com/jobs
jobs:
  - subject: magnesium
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Concurrency != defaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, defaultConcurrency)
	}
	if cfg.Restarts != 0 {
		t.Errorf("Restarts = %d, want 0", cfg.Restarts)
	}
	if cfg.PollInterval != 0 {
		t.Errorf("PollInterval = %v, want 0 (SDK default)", cfg.PollInterval.Duration())
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Subject != "magnesium" {
		t.Errorf("Jobs = %+v, want one magnesium job", cfg.Jobs)
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
start_url: https://jobs.example.com/jobs
timeout: 5s
poll_interval: 3s
initial_backoff: 500ms
backoff_cap: 3
max_retry_attempts: 5
max_polls: 20
status_field: data.state
payload_field: data.recommendation
headers:
  Authorization: Bearer token123
restarts: 2
concurrency: 8
history_db: /tmp/jobwatch.db
serve_port: 9090

jobs:
  - subject: magnesium
    options:
      form: glycinate

matrix:
  subjects: [zinc, iron]
  options:
    locale: en
  dimensions:
    audience: [adult, senior]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Timeout.Duration() != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout.Duration())
	}
	if cfg.PollInterval.Duration() != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", cfg.PollInterval.Duration())
	}
	if cfg.InitialBackoff.Duration() != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", cfg.InitialBackoff.Duration())
	}
	if cfg.BackoffCap == nil || *cfg.BackoffCap != 3 {
		t.Errorf("BackoffCap = %v, want 3", cfg.BackoffCap)
	}
	if cfg.MaxRetryAttempts != 5 || cfg.MaxPolls != 20 {
		t.Errorf("limits = (%d, %d), want (5, 20)", cfg.MaxRetryAttempts, cfg.MaxPolls)
	}
	if cfg.StatusField != "data.state" || cfg.PayloadField != "data.recommendation" {
		t.Errorf("fields = (%q, %q)", cfg.StatusField, cfg.PayloadField)
	}
	if cfg.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Headers[Authorization] = %q", cfg.Headers["Authorization"])
	}
	if cfg.Restarts != 2 || cfg.Concurrency != 8 || cfg.ServePort != 9090 {
		t.Errorf("run settings = (%d, %d, %d), want (2, 8, 9090)", cfg.Restarts, cfg.Concurrency, cfg.ServePort)
	}
	if cfg.HistoryDB != "/tmp/jobwatch.db" {
		t.Errorf("HistoryDB = %q", cfg.HistoryDB)
	}
	if cfg.Jobs[0].Options["form"] != "glycinate" {
		t.Errorf("Jobs[0].Options = %v", cfg.Jobs[0].Options)
	}
	if cfg.Matrix == nil || len(cfg.Matrix.Subjects) != 2 || len(cfg.Matrix.Dimensions["audience"]) != 2 {
		t.Errorf("Matrix = %+v", cfg.Matrix)
	}
}

func TestParse_NoJobsIsValid(t *testing.T) {
	cfg, err := Parse([]byte("start_url: http://localhost:8090/jobs\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Jobs) != 0 || cfg.Matrix != nil {
		t.Errorf("expected no jobs, got %+v / %+v", cfg.Jobs, cfg.Matrix)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("JOBWATCH_TEST_HOST", "jobs.internal")
	t.Setenv("JOBWATCH_TEST_TOKEN", "secret")

	yaml := `
start_url: https://${JOBWATCH_TEST_HOST}/jobs
headers:
  Authorization: Bearer ${JOBWATCH_TEST_TOKEN}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.StartURL != "https://jobs.internal/jobs" {
		t.Errorf("StartURL = %q", cfg.StartURL)
	}
	if cfg.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Headers[Authorization] = %q", cfg.Headers["Authorization"])
	}
}

func TestParse_EnvVarDefault(t *testing.T) {
	_ = os.Unsetenv("JOBWATCH_TEST_UNSET")

	cfg, err := Parse([]byte("start_url: ${JOBWATCH_TEST_UNSET:-http://localhost:8090/jobs}\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.StartURL != "http://localhost:8090/jobs" {
		t.Errorf("StartURL = %q, want default", cfg.StartURL)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	_ = os.Unsetenv("JOBWATCH_TEST_MISSING")

	yaml := `
start_url: https://example.com/jobs
headers:
  Authorization: ${JOBWATCH_TEST_MISSING}
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() should fail for unset variable without default")
	}
	if !strings.Contains(err.Error(), "JOBWATCH_TEST_MISSING") {
		t.Errorf("error = %v, want mention of variable", err)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing start_url",
			yaml:    "jobs:\n  - subject: zinc\n",
			wantErr: "start_url is required",
		},
		{
			name:    "bad scheme",
			yaml:    "start_url: ftp://example.com/jobs\n",
			wantErr: "scheme must be http or https",
		},
		{
			name:    "no scheme",
			yaml:    "start_url: example.com/jobs\n",
			wantErr: "scheme must be http or https",
		},
		{
			name:    "no host",
			yaml:    "start_url: http:///jobs\n",
			wantErr: "must include a host",
		},
		{
			name:    "poll interval too small",
			yaml:    "start_url: http://x/jobs\npoll_interval: 10ms\n",
			wantErr: "poll_interval must be at least",
		},
		{
			name:    "negative timeout",
			yaml:    "start_url: http://x/jobs\ntimeout: -1s\n",
			wantErr: "timeout cannot be negative",
		},
		{
			name:    "negative initial backoff",
			yaml:    "start_url: http://x/jobs\ninitial_backoff: -1s\n",
			wantErr: "initial_backoff cannot be negative",
		},
		{
			name:    "backoff cap out of range",
			yaml:    "start_url: http://x/jobs\nbackoff_cap: 17\n",
			wantErr: "backoff_cap must be between",
		},
		{
			name:    "negative max polls",
			yaml:    "start_url: http://x/jobs\nmax_polls: -1\n",
			wantErr: "max_polls cannot be negative",
		},
		{
			name:    "negative max response size",
			yaml:    "start_url: http://x/jobs\nmax_response_size: -1\n",
			wantErr: "max_response_size cannot be negative",
		},
		{
			name:    "negative retries",
			yaml:    "start_url: http://x/jobs\nmax_retry_attempts: -2\n",
			wantErr: "max_retry_attempts cannot be negative",
		},
		{
			name:    "too many restarts",
			yaml:    "start_url: http://x/jobs\nrestarts: 11\n",
			wantErr: "restarts must be between",
		},
		{
			name:    "concurrency too high",
			yaml:    "start_url: http://x/jobs\nconcurrency: 100\n",
			wantErr: "concurrency must be between",
		},
		{
			name:    "serve port out of range",
			yaml:    "start_url: http://x/jobs\nserve_port: 70000\n",
			wantErr: "serve_port must be between",
		},
		{
			name:    "empty job subject",
			yaml:    "start_url: http://x/jobs\njobs:\n  - subject: \"\"\n",
			wantErr: "jobs[0]",
		},
		{
			name:    "blocked job subject",
			yaml:    "start_url: http://x/jobs\njobs:\n  - subject: zinc\n  - subject: cocaine\n",
			wantErr: "jobs[1]",
		},
		{
			name:    "matrix without subjects",
			yaml:    "start_url: http://x/jobs\nmatrix:\n  dimensions:\n    a: [x]\n",
			wantErr: "at least one subject",
		},
		{
			name:    "matrix invalid subject",
			yaml:    "start_url: http://x/jobs\nmatrix:\n  subjects: [x]\n",
			wantErr: "matrix.subjects[0]",
		},
		{
			name:    "matrix empty dimension",
			yaml:    "start_url: http://x/jobs\nmatrix:\n  subjects: [zinc]\n  dimensions:\n    audience: []\n",
			wantErr: "has no values",
		},
		{
			name:    "matrix duplicate dimension value",
			yaml:    "start_url: http://x/jobs\nmatrix:\n  subjects: [zinc]\n  dimensions:\n    audience: [adult, adult]\n",
			wantErr: "duplicate value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("start_url: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("start_url: http://x/jobs\npoll_interval: soon\n"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %v", err)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"100ms", 100 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"1m30s", 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg, err := Parse([]byte("start_url: http://x/jobs\ntimeout: " + tt.input + "\n"))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.Timeout.Duration() != tt.want {
				t.Errorf("Timeout = %v, want %v", cfg.Timeout.Duration(), tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobwatch.yaml")
	if err := os.WriteFile(path, []byte("start_url: http://localhost:8090/jobs\njobs:\n  - subject: zinc\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StartURL != "http://localhost:8090/jobs" {
		t.Errorf("StartURL = %q", cfg.StartURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Load() error = %v, want read failure", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("JOBWATCH_TEST_A", "alpha")
	t.Setenv("JOBWATCH_TEST_EMPTY", "")
	_ = os.Unsetenv("JOBWATCH_TEST_NONE")

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "plain", false},
		{"${JOBWATCH_TEST_A}", "alpha", false},
		{"x-${JOBWATCH_TEST_A}-y", "x-alpha-y", false},
		{"${JOBWATCH_TEST_EMPTY:-fallback}", "", false},
		{"${JOBWATCH_TEST_NONE:-fallback}", "fallback", false},
		{"${JOBWATCH_TEST_NONE:-}", "", false},
		{"${JOBWATCH_TEST_NONE}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expandEnvVars() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
