package config

import "time"

// ExecutionConfig configures the executor and the local OS adapter.
type ExecutionConfig struct {
	// Size of the bounded worker pool
	Workers int `yaml:"workers"`

	// Retries for transient failures, with exponential backoff
	MaxRetries       int    `yaml:"max_retries"`
	RetryBackoffBase string `yaml:"retry_backoff_base"`
	RetryBackoffMax  string `yaml:"retry_backoff_max"`

	// Per-step timeout
	StepTimeout string `yaml:"step_timeout"`

	// Sandbox root for all filesystem operations
	WorkingDirectory string `yaml:"working_directory"`

	// Binaries run_command may invoke
	AllowedBinaries []string `yaml:"allowed_binaries"`

	// Record operations instead of performing them
	DryRun bool `yaml:"dry_run"`
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetStepTimeout returns the per-step timeout as a duration.
func (c ExecutionConfig) GetStepTimeout() time.Duration {
	return parseDurationOr(c.StepTimeout, 30*time.Second)
}

// GetBackoffBase returns the first retry delay.
func (c ExecutionConfig) GetBackoffBase() time.Duration {
	return parseDurationOr(c.RetryBackoffBase, 100*time.Millisecond)
}

// GetBackoffMax returns the retry delay ceiling.
func (c ExecutionConfig) GetBackoffMax() time.Duration {
	return parseDurationOr(c.RetryBackoffMax, 2*time.Second)
}
