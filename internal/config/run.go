package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/billwatch/pkg/retry"
)

const (
	EnvRunWorkers             = "BILLWATCH_RUN_WORKERS"
	EnvRunCollaboratorTimeout = "BILLWATCH_RUN_COLLABORATOR_TIMEOUT"
	EnvRunMaxAttempts         = "BILLWATCH_RUN_MAX_ATTEMPTS"
	EnvRunBackoffBase         = "BILLWATCH_RUN_BACKOFF_BASE"
	EnvRunBackoffMax          = "BILLWATCH_RUN_BACKOFF_MAX"
	EnvRunShutdownTimeout     = "BILLWATCH_RUN_SHUTDOWN_TIMEOUT"
)

// RunConfig holds worker pool and collaborator retry parameters.
type RunConfig struct {
	Workers             int    `toml:"workers"`
	CollaboratorTimeout string `toml:"collaborator_timeout"`
	MaxAttempts         int    `toml:"max_attempts"`
	BackoffBase         string `toml:"backoff_base"`
	BackoffMax          string `toml:"backoff_max"`
	Force               bool   `toml:"force"`
	ShutdownTimeout     string `toml:"shutdown_timeout"`
}

// CollaboratorTimeoutDuration returns CollaboratorTimeout as a time.Duration.
func (c *RunConfig) CollaboratorTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.CollaboratorTimeout)
	return d
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *RunConfig) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// RetryPolicy returns the policy applied to every collaborator call.
func (c *RunConfig) RetryPolicy() retry.Policy {
	base, _ := time.ParseDuration(c.BackoffBase)
	maxDelay, _ := time.ParseDuration(c.BackoffMax)
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		Timeout:     c.CollaboratorTimeoutDuration(),
		BaseDelay:   base,
		MaxDelay:    maxDelay,
	}
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *RunConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *RunConfig) Merge(overlay *RunConfig) {
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.CollaboratorTimeout != "" {
		c.CollaboratorTimeout = overlay.CollaboratorTimeout
	}
	if overlay.MaxAttempts != 0 {
		c.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.BackoffBase != "" {
		c.BackoffBase = overlay.BackoffBase
	}
	if overlay.BackoffMax != "" {
		c.BackoffMax = overlay.BackoffMax
	}
	if overlay.Force {
		c.Force = true
	}
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
}

func (c *RunConfig) loadDefaults() {
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.CollaboratorTimeout == "" {
		c.CollaboratorTimeout = "30s"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase == "" {
		c.BackoffBase = "500ms"
	}
	if c.BackoffMax == "" {
		c.BackoffMax = "10s"
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
}

func (c *RunConfig) loadEnv() {
	if v := os.Getenv(EnvRunWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv(EnvRunCollaboratorTimeout); v != "" {
		c.CollaboratorTimeout = v
	}
	if v := os.Getenv(EnvRunMaxAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv(EnvRunBackoffBase); v != "" {
		c.BackoffBase = v
	}
	if v := os.Getenv(EnvRunBackoffMax); v != "" {
		c.BackoffMax = v
	}
	if v := os.Getenv(EnvRunShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
}

func (c *RunConfig) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive: %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive: %d", c.MaxAttempts)
	}
	for name, v := range map[string]string{
		"collaborator_timeout": c.CollaboratorTimeout,
		"backoff_base":         c.BackoffBase,
		"backoff_max":          c.BackoffMax,
		"shutdown_timeout":     c.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}
