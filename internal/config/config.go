// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and RENTRANK_* env vars on top of New().
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/robfig/cron"
)

// Presence store backends.
const (
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
	PresenceNATS   = "nats"
)

// Profile store drivers.
const (
	ProfileMemory   = "memory"
	ProfileSQLite   = "sqlite"
	ProfilePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// PresenceBackend selects the realtime store: memory, redis or nats.
	PresenceBackend string `koanf:"presence_backend"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	NATSURL  string `koanf:"nats_url"`
	NATSUser string `koanf:"nats_user"`
	NATSPass string `koanf:"nats_pass"`

	// ProfileDriver selects the document store: memory, sqlite or postgres.
	ProfileDriver string `koanf:"profile_driver"`

	// ProfileDSN is the sqlite path or postgres connection string.
	ProfileDSN string `koanf:"profile_dsn"`

	// GracePeriodMS is the reconnection window before an offline report counts.
	GracePeriodMS int `koanf:"grace_period_ms"`

	// LeaseTTLMS bounds how long a dead connection keeps its disconnect hooks armed.
	LeaseTTLMS int `koanf:"lease_ttl_ms"`

	// ReapIntervalMS is how often expired connections are reaped.
	ReapIntervalMS int `koanf:"reap_interval_ms"`

	// SweepSchedule is a six-field cron spec (seconds first).
	SweepSchedule string `koanf:"sweep_schedule"`

	// SweepTimezone names the location the schedule is evaluated in.
	SweepTimezone string `koanf:"sweep_timezone"`

	// SweepOnStart runs one sweep when the service starts.
	SweepOnStart bool `koanf:"sweep_on_start"`

	// SweepConcurrency bounds the per-user fan-out of a sweep.
	SweepConcurrency int `koanf:"sweep_concurrency"`

	// WorkerCount sets the number of recalculation workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory job queue.
	QueueSize int `koanf:"queue_size"`

	// InflightSize bounds the number of coalesced job keys tracked at once.
	InflightSize int `koanf:"inflight_size"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		PresenceBackend:  PresenceMemory,
		RedisAddr:        "localhost:6379",
		RedisPrefix:      "presence:",
		NATSURL:          "nats://localhost:4222",
		ProfileDriver:    ProfileMemory,
		GracePeriodMS:    2000,
		LeaseTTLMS:       15000,
		ReapIntervalMS:   5000,
		SweepSchedule:    "0 0 1 * * *",
		SweepTimezone:    "Local",
		SweepOnStart:     true,
		SweepConcurrency: 32,
		WorkerCount:      runtime.NumCPU() * 2,
		QueueSize:        10_000,
		InflightSize:     50_000,
	}
}

// GracePeriod returns GracePeriodMS as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMS) * time.Millisecond
}

// LeaseTTL returns LeaseTTLMS as a duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLMS) * time.Millisecond
}

// ReapInterval returns ReapIntervalMS as a duration.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalMS) * time.Millisecond
}

// Location resolves SweepTimezone.
func (c *Config) Location() (*time.Location, error) {
	if c.SweepTimezone == "" || c.SweepTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.SweepTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: sweep_timezone %q: %v", ErrInvalidConfig, c.SweepTimezone, err)
	}
	return loc, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}

	switch c.PresenceBackend {
	case PresenceMemory:
	case PresenceRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	case PresenceNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("%w: nats_url is required for the nats backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown presence_backend %q", ErrInvalidConfig, c.PresenceBackend)
	}

	switch c.ProfileDriver {
	case ProfileMemory:
	case ProfileSQLite, ProfilePostgres:
		if c.ProfileDSN == "" {
			return fmt.Errorf("%w: profile_dsn is required for the %s driver", ErrInvalidConfig, c.ProfileDriver)
		}
	default:
		return fmt.Errorf("%w: unknown profile_driver %q", ErrInvalidConfig, c.ProfileDriver)
	}

	if c.GracePeriodMS <= 0 {
		return fmt.Errorf("%w: grace_period_ms must be positive", ErrInvalidConfig)
	}
	if c.LeaseTTLMS <= 0 || c.ReapIntervalMS <= 0 {
		return fmt.Errorf("%w: lease_ttl_ms and reap_interval_ms must be positive", ErrInvalidConfig)
	}
	if c.SweepConcurrency <= 0 || c.WorkerCount <= 0 || c.QueueSize <= 0 {
		return fmt.Errorf("%w: sweep_concurrency, worker_count and queue_size must be positive", ErrInvalidConfig)
	}
	if _, err := cron.Parse(c.SweepSchedule); err != nil {
		return fmt.Errorf("%w: sweep_schedule %q: %v", ErrInvalidConfig, c.SweepSchedule, err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
