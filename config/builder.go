package config

import (
	"sort"

	"github.com/jpalmerr/jobwatch"
)

// BuildOptions converts parsed configuration into SDK options.
//
// Zero values are skipped so the SDK defaults apply.
func BuildOptions(cfg *Config) []jobwatch.Option {
	var opts []jobwatch.Option

	if cfg.Timeout != 0 {
		opts = append(opts, jobwatch.WithTimeout(cfg.Timeout.Duration()))
	}
	if cfg.PollInterval != 0 {
		opts = append(opts, jobwatch.WithPollInterval(cfg.PollInterval.Duration()))
	}
	if cfg.InitialBackoff != 0 {
		opts = append(opts, jobwatch.WithInitialBackoff(cfg.InitialBackoff.Duration()))
	}
	if cfg.BackoffCap != nil {
		opts = append(opts, jobwatch.WithBackoffCap(*cfg.BackoffCap))
	}
	if cfg.MaxRetryAttempts != 0 {
		opts = append(opts, jobwatch.WithMaxRetryAttempts(cfg.MaxRetryAttempts))
	}
	if cfg.MaxPolls != 0 {
		opts = append(opts, jobwatch.WithMaxPolls(cfg.MaxPolls))
	}
	if cfg.MaxResponseSize != 0 {
		opts = append(opts, jobwatch.WithMaxResponseSize(cfg.MaxResponseSize))
	}
	if cfg.StatusField != "" {
		opts = append(opts, jobwatch.WithStatusField(cfg.StatusField))
	}
	if cfg.PayloadField != "" {
		opts = append(opts, jobwatch.WithPayloadField(cfg.PayloadField))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, jobwatch.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}

	return opts
}

// BuildRequests converts configured jobs and the matrix into job requests.
//
// Direct jobs come first in file order, followed by the matrix expanded
// subject by subject.
func BuildRequests(cfg *Config) []jobwatch.JobRequest {
	var reqs []jobwatch.JobRequest

	for _, jc := range cfg.Jobs {
		reqs = append(reqs, jobwatch.JobRequest{
			Subject: jc.Subject,
			Options: copyOptions(jc.Options),
		})
	}

	if m := cfg.Matrix; m != nil {
		combinations := cartesianProduct(m.Dimensions)
		if len(combinations) == 0 {
			// no dimensions, one job per subject
			combinations = []map[string]string{{}}
		}

		for _, subject := range m.Subjects {
			for _, combo := range combinations {
				options := copyOptions(m.Options)
				for k, v := range combo {
					if options == nil {
						options = make(map[string]string, len(combo))
					}
					options[k] = v
				}
				reqs = append(reqs, jobwatch.JobRequest{Subject: subject, Options: options})
			}
		}
	}

	return reqs
}

func copyOptions(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// cartesianProduct generates all combinations of dimension values.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	// sort dimension keys for deterministic ordering
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// start with single empty combination
	result := []map[string]string{{}}

	for _, key := range keys {
		values := dimensions[key]
		var newResult []map[string]string

		for _, combo := range result {
			for _, val := range values {
				newCombo := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					newCombo[k] = v
				}
				newCombo[key] = val
				newResult = append(newResult, newCombo)
			}
		}
		result = newResult
	}

	return result
}
