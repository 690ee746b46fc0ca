// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Package config defines application configuration and its koanf-based
// loading pipeline: struct defaults, then an optional YAML file, then
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Remote   RemoteConfig   `koanf:"remote"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig holds local SQLite store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `koanf:"path" validate:"required"`

	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY.
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"min=0"`
}

// RemoteConfig holds settings for the remote metric source.
type RemoteConfig struct {
	// BaseURL is the remote API root, e.g. https://metrics.example.com.
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`

	// Timeout bounds a single fetch attempt.
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`

	// BreakerEnabled wraps each accessor in a circuit breaker so a
	// misbehaving remote stops receiving traffic until it recovers.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// SyncConfig holds default sync tuning applied when a run doesn't
// specify its own values.
type SyncConfig struct {
	// Metrics is the default ordered metric list.
	Metrics []string `koanf:"metrics"`

	// BatchSize is the number of completed dates between checkpoint
	// flushes.
	BatchSize int `koanf:"batch_size" validate:"min=1"`

	RetryAttempts int           `koanf:"retry_attempts" validate:"min=0"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"min=0"`
	Backoff       string        `koanf:"backoff" validate:"oneof=fixed exponential"`

	// UnitInterval is the mandatory delay between consecutive remote
	// fetches (rate limiting).
	UnitInterval time.Duration `koanf:"unit_interval" validate:"min=0"`

	// OldestFirst opts into chronological processing; the default is
	// reverse-chronological (newest first).
	OldestFirst bool `koanf:"oldest_first"`
}

// ServerConfig holds HTTP control API settings.
type ServerConfig struct {
	Listen          string        `koanf:"listen" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// RateLimitRequests per RateLimitWindow, keyed by client IP.
	// Zero disables rate limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"min=0"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "vitalsync.db",
			BusyTimeout: 30 * time.Second,
		},
		Remote: RemoteConfig{
			BaseURL:        "",
			Timeout:        30 * time.Second,
			BreakerEnabled: true,
		},
		Sync: SyncConfig{
			Metrics: []string{
				"sleep", "heart_rate", "body_battery", "stress", "hrv",
				"respiration", "training_readiness", "steps", "calories",
				"daily_summary",
			},
			BatchSize:     10,
			RetryAttempts: 3,
			RetryDelay:    30 * time.Second,
			Backoff:       "fixed",
			UnitInterval:  250 * time.Millisecond,
			OldestFirst:   false,
		},
		Server: ServerConfig{
			Listen:             ":8480",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSAllowedOrigins: []string{"*"},
			RateLimitRequests:  120,
			RateLimitWindow:    time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration against struct validation tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
