// Package config defines service configuration and its loading hooks.
//
// Conventions:
// - New() returns a Config carrying every default.
// - Load layers a YAML file and KEYPRINT_* environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the baseline training queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of baseline training workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the set of remembered event batch ids.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxEventsPerSession caps each capture buffer; later events are dropped.
	MaxEventsPerSession int `koanf:"max_events_per_session"`

	// MaxOpenSessions caps the number of concurrently tracked sessions.
	MaxOpenSessions int `koanf:"max_open_sessions"`

	// SessionTTLMS discards tracked sessions that were never stopped.
	SessionTTLMS int `koanf:"session_ttl_ms"`

	// BaselineTimeoutMS bounds a single baseline store call during scoring.
	BaselineTimeoutMS int `koanf:"baseline_timeout_ms"`

	// BaselineUpdateWeight is the EMA weight of a new session in a baseline.
	BaselineUpdateWeight float64 `koanf:"baseline_update_weight"`

	// LearnOnAllow folds ALLOW assessments into the identity's baseline.
	LearnOnAllow bool `koanf:"learn_on_allow"`

	// RulesFile points to a YAML rule table; empty uses the built-in table.
	RulesFile string `koanf:"rules_file"`

	// WatchRules reloads RulesFile when it changes on disk.
	WatchRules bool `koanf:"watch_rules"`

	// PostgresURL selects the Postgres baseline store; empty keeps baselines in memory.
	PostgresURL string `koanf:"postgres_url"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		QueueSize:            10_000,
		WorkerCount:          runtime.NumCPU(),
		DedupeSize:           100_000,
		MaxEventsPerSession:  10_000,
		MaxOpenSessions:      50_000,
		SessionTTLMS:         30 * 60 * 1000,
		BaselineTimeoutMS:    250,
		BaselineUpdateWeight: 0.2,
		LearnOnAllow:         true,
		WatchRules:           true,
	}
}

// SessionTTL returns SessionTTLMS as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMS) * time.Millisecond
}

// BaselineTimeout returns BaselineTimeoutMS as a duration.
func (c *Config) BaselineTimeout() time.Duration {
	return time.Duration(c.BaselineTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MaxEventsPerSession <= 0:
		return fmt.Errorf("%w: max_events_per_session must be positive", ErrInvalidConfig)
	case c.BaselineUpdateWeight <= 0 || c.BaselineUpdateWeight > 1:
		return fmt.Errorf("%w: baseline_update_weight must be in (0, 1]", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	}
	return nil
}
