// Package config provides configuration management for the hedge snapshot engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Snapshot  SnapshotConfig
	Providers ProvidersConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection string used by pgx and golang-migrate
func (c PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// ClickHouseConfig holds ClickHouse configuration. An empty Host disables the history export.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SnapshotConfig holds the batch snapshot settings
type SnapshotConfig struct {
	// Brokers whose rate tables are loaded for every run
	Brokers []string
	// RatesWindowDays bounds how stale a rate row may be
	RatesWindowDays int
	// MaxHorizonCapDays caps hedge_settings.max_horizon_days
	MaxHorizonCapDays int
	// DefaultHorizonDays applies to accounts without hedge settings
	DefaultHorizonDays int
	MarginHoldingDays  int
	MarginConfidence   float64
	// Concurrency is the number of companies processed in parallel
	Concurrency int
	LockTTL     time.Duration
	RunAt       string // HH:MM UTC, daily schedule
}

// ProvidersConfig points at the upstream data service backing the collaborators
type ProvidersConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond throttles calls to the data service; 0 disables throttling
	RequestsPerSecond float64
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "hedge_snapshots"),
				User:           getEnv("POSTGRES_USER", "hedge"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "hedge_snapshots"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Snapshot: SnapshotConfig{
			Brokers:            getEnvAsList("SNAPSHOT_BROKERS", []string{"IBKR"}),
			RatesWindowDays:    getEnvAsInt("SNAPSHOT_RATES_WINDOW_DAYS", 5),
			MaxHorizonCapDays:  getEnvAsInt("SNAPSHOT_MAX_HORIZON_CAP_DAYS", 3652),
			DefaultHorizonDays: getEnvAsInt("SNAPSHOT_DEFAULT_HORIZON_DAYS", 365),
			MarginHoldingDays:  getEnvAsInt("SNAPSHOT_MARGIN_HOLDING_DAYS", 1),
			MarginConfidence:   getEnvAsFloat("SNAPSHOT_MARGIN_CONFIDENCE", 0.99),
			Concurrency:        getEnvAsInt("SNAPSHOT_CONCURRENCY", 4),
			LockTTL:            getEnvAsDuration("SNAPSHOT_LOCK_TTL", 30*time.Minute),
			RunAt:              getEnv("SNAPSHOT_RUN_AT", "00:00"),
		},
		Providers: ProvidersConfig{
			BaseURL:    getEnv("PROVIDER_BASE_URL", "http://localhost:9100"),
			APIKey:     getEnv("PROVIDER_API_KEY", ""),
			Timeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
			MaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 3),

			RequestsPerSecond: getEnvAsFloat("PROVIDER_RPS", 10),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the snapshot engine cannot run with
func (c *Config) Validate() error {
	s := c.Snapshot
	if s.RatesWindowDays < 0 {
		return fmt.Errorf("SNAPSHOT_RATES_WINDOW_DAYS must be >= 0, got %d", s.RatesWindowDays)
	}
	if s.MaxHorizonCapDays <= 0 || s.DefaultHorizonDays <= 0 {
		return fmt.Errorf("snapshot horizons must be positive")
	}
	if s.MarginConfidence <= 0.5 || s.MarginConfidence >= 1 {
		return fmt.Errorf("SNAPSHOT_MARGIN_CONFIDENCE must be in (0.5, 1), got %v", s.MarginConfidence)
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("SNAPSHOT_CONCURRENCY must be >= 1, got %d", s.Concurrency)
	}
	if _, err := time.Parse("15:04", s.RunAt); err != nil {
		return fmt.Errorf("SNAPSHOT_RUN_AT must be HH:MM: %w", err)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated variable, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
