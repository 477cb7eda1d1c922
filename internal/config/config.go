// Copyright 2026 The CollectOps Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/collectops/collectops/internal/scoring"
	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Environment   string `env:"APP_ENV" envDefault:"development"`
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Auth          AuthConfig
	Cron          CronConfig
	Scoring       ScoringConfig
	Planner       PlannerConfig
	Events        EventsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"collectops"`
	Password string `env:"DB_PASSWORD"`
	Database string `env:"DB_NAME" envDefault:"collectops"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int    `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns int    `env:"DB_MIN_CONNS" envDefault:"2"`

	// SeedFile preloads clients and loans into the memory driver.
	SeedFile string `env:"STORE_SEED_FILE"`
}

// RedisConfig holds the event channel connection
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// ObservabilityConfig holds logging, tracing and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string  `env:"LOG_FORMAT" envDefault:"json"`
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"false"`
	ServiceName    string  `env:"OTEL_SERVICE_NAME" envDefault:"collectops"`
	ServiceVersion string  `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0"`
	SamplingRate   float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATELIMIT_RPS" envDefault:"10"`
	Burst             int     `env:"RATELIMIT_BURST" envDefault:"20"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"JWT_ISSUER" envDefault:""`
}

// CronConfig holds the expiry sweep trigger settings
type CronConfig struct {
	Secret           string        `env:"CRON_SECRET"`
	SchedulerEnabled bool          `env:"CRON_SCHEDULER_ENABLED" envDefault:"false"`
	SweepInterval    time.Duration `env:"CRON_SWEEP_INTERVAL" envDefault:"1h"`
	SweepBatchSize   int           `env:"CRON_SWEEP_BATCH_SIZE" envDefault:"500"`
}

// ScoringConfig holds priority score weights
type ScoringConfig struct {
	DaysPastDue        float64 `env:"SCORE_WEIGHT_DAYS_PAST_DUE" envDefault:"0.40"`
	Balance            float64 `env:"SCORE_WEIGHT_BALANCE" envDefault:"0.25"`
	BrokenPromises     float64 `env:"SCORE_WEIGHT_BROKEN_PROMISES" envDefault:"0.25"`
	Recency            float64 `env:"SCORE_WEIGHT_RECENCY" envDefault:"0.10"`
	DaysPastDueHalf    float64 `env:"SCORE_HALF_DAYS_PAST_DUE" envDefault:"30"`
	BalanceHalf        float64 `env:"SCORE_HALF_BALANCE" envDefault:"5000"`
	BrokenPromisesHalf float64 `env:"SCORE_HALF_BROKEN_PROMISES" envDefault:"1"`
	RecencyHalfDays    float64 `env:"SCORE_HALF_RECENCY_DAYS" envDefault:"14"`
}

// Weights converts the configuration into scorer weights
func (s ScoringConfig) Weights() scoring.Weights {
	return scoring.Weights{
		DaysPastDue:        s.DaysPastDue,
		Balance:            s.Balance,
		BrokenPromises:     s.BrokenPromises,
		Recency:            s.Recency,
		DaysPastDueHalf:    s.DaysPastDueHalf,
		BalanceHalf:        s.BalanceHalf,
		BrokenPromisesHalf: s.BrokenPromisesHalf,
		RecencyHalfDays:    s.RecencyHalfDays,
	}
}

// PlannerConfig holds route planning defaults
type PlannerConfig struct {
	DefaultCapacity int     `env:"PLANNER_DEFAULT_CAPACITY" envDefault:"20"`
	MaxCapacity     int     `env:"PLANNER_MAX_CAPACITY" envDefault:"100"`
	EpsilonMeters   float64 `env:"PLANNER_EPSILON_METERS" envDefault:"1.0"`
}

// EventsConfig holds domain event delivery settings
type EventsConfig struct {
	QueueSize      int           `env:"EVENTS_QUEUE_SIZE" envDefault:"1024"`
	Workers        int           `env:"EVENTS_WORKERS" envDefault:"2"`
	PublishTimeout time.Duration `env:"EVENTS_PUBLISH_TIMEOUT" envDefault:"5s"`
	ChannelPrefix  string        `env:"EVENTS_CHANNEL_PREFIX" envDefault:"collectops"`
}

// LoadEnv loads the env files that exist, ignoring missing ones. Variables
// already set in the process environment win.
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load loads configuration from optional env files and the environment
func Load(files ...string) (*Config, error) {
	if _, err := LoadEnv(files...); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %s or %s", DriverPostgres, DriverMemory))
	}

	if c.Database.SeedFile != "" && c.Database.Driver != DriverMemory {
		errs = append(errs, errors.New("STORE_SEED_FILE requires STORE_DRIVER=memory"))
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if strings.TrimSpace(c.Cron.Secret) == "" {
		errs = append(errs, errors.New("CRON_SECRET is required"))
	}
	if c.Cron.SchedulerEnabled && c.Cron.SweepInterval <= 0 {
		errs = append(errs, errors.New("CRON_SWEEP_INTERVAL must be positive"))
	}
	if c.Cron.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("CRON_SWEEP_BATCH_SIZE must be positive"))
	}
	if err := c.Scoring.Weights().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Planner.DefaultCapacity <= 0 || c.Planner.DefaultCapacity > c.Planner.MaxCapacity {
		errs = append(errs, errors.New("PLANNER_DEFAULT_CAPACITY must be between 1 and PLANNER_MAX_CAPACITY"))
	}
	if c.Planner.EpsilonMeters < 0 {
		errs = append(errs, errors.New("PLANNER_EPSILON_METERS must not be negative"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATELIMIT_RPS and RATELIMIT_BURST must be positive"))
	}

	return errors.Join(errs...)
}
