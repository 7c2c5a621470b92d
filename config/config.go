// Package config provides YAML configuration parsing for jobwatch.
//
// This package enables running jobwatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	start_url: ${JOBS_URL:-http://localhost:8090/jobs}
//	poll_interval: 2s
//	max_polls: 60
//	restarts: 2
//	history_db: jobwatch.db
//
//	headers:
//	  Authorization: Bearer ${JOBS_TOKEN}
//
//	jobs:
//	  - subject: magnesium
//	    options:
//	      form: glycinate
//
//	matrix:
//	  subjects: [zinc, iron]
//	  dimensions:
//	    audience: [adult, senior]
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/jobwatch"
)

const (
	// minPollInterval prevents accidental hammering of the job API.
	minPollInterval = 100 * time.Millisecond

	defaultConcurrency = 4
	maxConcurrency     = 64
	maxRestarts        = 10
)

// Config is the root configuration structure for jobwatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// StartURL is the job starter endpoint. Required.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	StartURL string `yaml:"start_url"`

	// Timeout bounds each HTTP request. Defaults to the SDK default (10s).
	Timeout Duration `yaml:"timeout"`

	// PollInterval is the delay between successful polls when the server
	// does not suggest one.
	PollInterval Duration `yaml:"poll_interval"`

	// InitialBackoff is the base delay after a failed poll.
	InitialBackoff Duration `yaml:"initial_backoff"`

	// BackoffCap bounds the backoff exponent. Nil keeps the SDK default.
	BackoffCap *int `yaml:"backoff_cap"`

	// MaxRetryAttempts is the number of consecutive recoverable failures
	// tolerated per attempt.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// MaxPolls is the total poll budget per attempt.
	MaxPolls int `yaml:"max_polls"`

	// MaxResponseSize limits response bodies in bytes. Zero keeps the SDK
	// default (1MB).
	MaxResponseSize int64 `yaml:"max_response_size"`

	// StatusField and PayloadField are dotted paths into poll responses.
	StatusField  string `yaml:"status_field"`
	PayloadField string `yaml:"payload_field"`

	// Headers are sent with every request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Restarts is how many fresh attempts the CLI makes after a failure
	// that offers a retry. Defaults to 0.
	Restarts int `yaml:"restarts"`

	// Concurrency limits how many jobs are watched at once. Defaults to 4.
	Concurrency int `yaml:"concurrency"`

	// HistoryDB is the SQLite file terminal outcomes are recorded to.
	// Empty disables history.
	HistoryDB string `yaml:"history_db"`

	// ServePort serves the progress feed when non-zero.
	ServePort int `yaml:"serve_port"`

	// Jobs are submitted one per entry.
	Jobs []JobConfig `yaml:"jobs"`

	// Matrix expands into one job per subject and dimension combination.
	Matrix *MatrixConfig `yaml:"matrix"`
}

// JobConfig defines a single job submission.
type JobConfig struct {
	// Subject identifies what the job is about. Required.
	Subject string `yaml:"subject"`

	// Options are passed to the job starter unchanged.
	Options map[string]string `yaml:"options"`
}

// MatrixConfig defines jobs that expand via cartesian product.
//
// For example, with subjects [zinc, iron] and dimensions
// {audience: [adult, senior]}, the matrix expands to 4 jobs.
type MatrixConfig struct {
	// Subjects lists the subjects to submit. Required.
	Subjects []string `yaml:"subjects"`

	// Dimensions maps option names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions"`

	// Options are applied to every generated job. Dimension values win
	// over options with the same key.
	Options map[string]string `yaml:"options"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the start URL and header values.
// Jobs are optional here; the CLI may supply subjects on the command line.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.StartURL == "" {
		return fmt.Errorf("start_url is required")
	}
	expanded, err := expandEnvVars(c.StartURL)
	if err != nil {
		return fmt.Errorf("start_url: %w", err)
	}
	c.StartURL = expanded

	parsedURL, err := url.Parse(c.StartURL)
	if err != nil {
		return fmt.Errorf("invalid start_url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("start_url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("start_url must include a host")
	}

	for k, v := range c.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		c.Headers[k] = expanded
	}

	if err := c.validateTiming(); err != nil {
		return err
	}

	if c.Restarts < 0 || c.Restarts > maxRestarts {
		return fmt.Errorf("restarts must be between 0 and %d, got %d", maxRestarts, c.Restarts)
	}
	if c.Concurrency < 1 || c.Concurrency > maxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d, got %d", maxConcurrency, c.Concurrency)
	}
	if c.ServePort < 0 || c.ServePort > 65535 {
		return fmt.Errorf("serve_port must be between 0 and 65535, got %d", c.ServePort)
	}

	for i, j := range c.Jobs {
		if err := jobwatch.ValidateSubject(j.Subject); err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
	}

	if m := c.Matrix; m != nil {
		if len(m.Subjects) == 0 {
			return fmt.Errorf("matrix: at least one subject is required")
		}
		for i, s := range m.Subjects {
			if err := jobwatch.ValidateSubject(s); err != nil {
				return fmt.Errorf("matrix.subjects[%d]: %w", i, err)
			}
		}
		for dimName, dimValues := range m.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("matrix: dimension %q has no values", dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("matrix: dimension %q has duplicate value %q", dimName, v)
				}
				seen[v] = struct{}{}
			}
		}
	}

	return nil
}

func (c *Config) validateTiming() error {
	if c.Timeout.Duration() < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout.Duration())
	}
	if c.PollInterval != 0 && c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.InitialBackoff.Duration() < 0 {
		return fmt.Errorf("initial_backoff cannot be negative, got %s", c.InitialBackoff.Duration())
	}
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("max_retry_attempts cannot be negative, got %d", c.MaxRetryAttempts)
	}
	if c.MaxPolls < 0 {
		return fmt.Errorf("max_polls cannot be negative, got %d", c.MaxPolls)
	}
	if c.MaxResponseSize < 0 {
		return fmt.Errorf("max_response_size cannot be negative, got %d", c.MaxResponseSize)
	}
	if c.BackoffCap != nil && (*c.BackoffCap < 0 || *c.BackoffCap > 16) {
		return fmt.Errorf("backoff_cap must be between 0 and 16, got %d", *c.BackoffCap)
	}
	if strings.TrimSpace(c.StatusField) != c.StatusField || strings.TrimSpace(c.PayloadField) != c.PayloadField {
		return fmt.Errorf("status_field and payload_field must not contain surrounding spaces")
	}
	return nil
}
