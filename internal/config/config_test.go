package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("SNAPSHOT_BROKERS", "IBKR, OANDA,,")
	t.Setenv("SNAPSHOT_LOCK_TTL", "5m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if got := cfg.Snapshot.Brokers; len(got) != 2 || got[0] != "IBKR" || got[1] != "OANDA" {
		t.Errorf("Snapshot.Brokers = %v, want [IBKR OANDA]", got)
	}
	if cfg.Snapshot.LockTTL != 5*time.Minute {
		t.Errorf("Snapshot.LockTTL = %v, want %v", cfg.Snapshot.LockTTL, 5*time.Minute)
	}
	if cfg.Snapshot.MaxHorizonCapDays != 3652 {
		t.Errorf("Snapshot.MaxHorizonCapDays = %v, want 3652", cfg.Snapshot.MaxHorizonCapDays)
	}
	if cfg.Snapshot.RatesWindowDays != 5 {
		t.Errorf("Snapshot.RatesWindowDays = %v, want 5", cfg.Snapshot.RatesWindowDays)
	}
}

func TestLoadConfig_RejectsBadConfidence(t *testing.T) {
	t.Setenv("SNAPSHOT_MARGIN_CONFIDENCE", "1.5")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected an error for confidence outside (0.5, 1)")
	}
}

func TestLoadConfig_RejectsBadRunAt(t *testing.T) {
	t.Setenv("SNAPSHOT_RUN_AT", "midnight")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected an error for a malformed run time")
	}
}

func TestPostgresURL(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: "5432", Database: "hs", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/hs?sslmode=disable"
	if got := c.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}

	c.Password = "p@ss/word"
	want = "postgres://u:p%40ss%2Fword@db:5432/hs?sslmode=disable"
	if got := c.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnvAsInt(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.975")
	if got := getEnvAsFloat("TEST_FLOAT", 0.99); got != 0.975 {
		t.Errorf("getEnvAsFloat() = %v, want 0.975", got)
	}
	t.Setenv("TEST_FLOAT_BAD", "x")
	if got := getEnvAsFloat("TEST_FLOAT_BAD", 0.99); got != 0.99 {
		t.Errorf("getEnvAsFloat() = %v, want 0.99", got)
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			if got := getEnvAsDuration(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
