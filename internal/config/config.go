// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and INSIGHTS_* env vars.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the entity store backend: memory or sqlite.
	Store string `koanf:"store"`

	// SQLitePath is the database file used when Store is sqlite.
	SQLitePath string `koanf:"sqlite_path"`

	// SeedDemo fills the memory store with a synthetic region at start-up.
	SeedDemo bool `koanf:"seed_demo"`

	// WorkerCount bounds how many rules evaluate concurrently.
	WorkerCount int `koanf:"worker_count"`

	// RuleTimeoutMS caps a single rule evaluation.
	RuleTimeoutMS int `koanf:"rule_timeout_ms"`

	// LookbackDays is the rolling window most rules read.
	LookbackDays int `koanf:"lookback_days"`

	// AllowAnonymous lets callers without roles see every insight.
	// When false such callers see nothing.
	AllowAnonymous bool `koanf:"allow_anonymous"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `koanf:"otel_endpoint"`

	// MetricsNamespace and MetricsSubsystem prefix every exported metric.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`

	// Latency histogram buckets in milliseconds: start, start*factor, ...
	// A zero count keeps the built-in buckets.
	MetricsBucketStartMS float64 `koanf:"metrics_bucket_start_ms"`
	MetricsBucketFactor  float64 `koanf:"metrics_bucket_factor"`
	MetricsBucketCount   int     `koanf:"metrics_bucket_count"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Addr:           ":9080",
		Store:          StoreMemory,
		SQLitePath:     "insights.db",
		SeedDemo:       true,
		WorkerCount:    runtime.NumCPU() * 2,
		RuleTimeoutMS:  10_000,
		LookbackDays:   30,
		AllowAnonymous: true,

		MetricsNamespace: "insights",
		MetricsSubsystem: "engine",
	}
}

// RuleTimeout returns RuleTimeoutMS as a duration.
func (c *Config) RuleTimeout() time.Duration {
	return time.Duration(c.RuleTimeoutMS) * time.Millisecond
}

// Lookback returns LookbackDays as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreMemory && c.Store != StoreSQLite:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Store == StoreSQLite && strings.TrimSpace(c.SQLitePath) == "":
		return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.RuleTimeoutMS < 1:
		return fmt.Errorf("%w: rule_timeout_ms must be positive", ErrInvalidConfig)
	case c.LookbackDays < 1:
		return fmt.Errorf("%w: lookback_days must be positive", ErrInvalidConfig)
	case strings.TrimSpace(c.MetricsNamespace) == "":
		return fmt.Errorf("%w: metrics_namespace must not be empty", ErrInvalidConfig)
	case c.MetricsBucketCount < 0:
		return fmt.Errorf("%w: metrics_bucket_count must not be negative", ErrInvalidConfig)
	case c.MetricsBucketCount > 0 && (c.MetricsBucketStartMS <= 0 || c.MetricsBucketFactor <= 1):
		return fmt.Errorf("%w: metrics buckets need start_ms > 0 and factor > 1", ErrInvalidConfig)
	}
	return nil
}
