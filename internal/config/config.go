// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits with an error.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all runtime configuration for the policy service.
type Config struct {
	Port     string `env:"PORT"      envDefault:"8083"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"9093"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"policies.db"`
	RedisURL       string `env:"REDIS_URL"`

	OntongAPIKey  string        `env:"ONTONG_API_KEY"`
	OntongBaseURL string        `env:"ONTONG_API_BASE_URL" envDefault:"https://www.youthcenter.go.kr/openapi"`
	OntongTimeout time.Duration `env:"ONTONG_TIMEOUT"      envDefault:"10s"`

	SyncPageSize      int           `env:"SYNC_PAGE_SIZE"      envDefault:"100"`
	SyncDelay         time.Duration `env:"SYNC_DELAY"          envDefault:"1s"`
	SyncIntervalHours int           `env:"SYNC_INTERVAL_HOURS" envDefault:"24"`
	SyncOnStartup     bool          `env:"SYNC_ON_STARTUP"     envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load reads an optional .env file, then the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.OntongAPIKey) == "" {
		return fmt.Errorf("ONTONG_API_KEY is required")
	}
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DatabaseDriver)
	}
	if c.SyncPageSize <= 0 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be positive, got %d", c.SyncPageSize)
	}
	if c.SyncIntervalHours <= 0 {
		return fmt.Errorf("SYNC_INTERVAL_HOURS must be positive, got %d", c.SyncIntervalHours)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// SlogLevel parses LOG_LEVEL (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
