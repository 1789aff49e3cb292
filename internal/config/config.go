// Package config provides application configuration, loaded from
// environment variables with sensible defaults.
//
// Configuration categories:
//   - Server: listen port, CORS origin, dev-mode detection
//   - Sandbox: per-environment container resource limits and retry timing
//   - Journal: retention and background pruning cadence
//   - Reaper: idle scan interval and default idle timeout
//   - Reconnect: client-side backoff bounds
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SandboxConfig holds sandbox (container) resource and retry configuration.
type SandboxConfig struct {
	MemoryLimitBytes    int64         // Memory limit in bytes (default: 512MB)
	CPUQuota            int64         // CPU quota (default: 50000 = 0.5 CPU)
	PidsLimit           int64         // PIDs limit (default: 256)
	CreateRetryAttempts int           // Sandbox create retry attempts (default: 20)
	CreateRetryDelay    time.Duration // Delay between create retries (default: 250ms)
	CreateTimeout       time.Duration // Sandbox create timeout (default: 2m)
	StopTimeout         time.Duration // Sandbox stop timeout (default: 10s)
	Runtime             string        // Docker runtime: "" = default (runc), "runsc" = gVisor
	Image               string        // Image agent exec sessions are created against
}

// JournalConfig controls event journal retention and pruning.
type JournalConfig struct {
	RetentionPeriod time.Duration // How long journaled events are kept (default: 72h)
	PruneInterval   time.Duration // How often the prune sweep runs (default: 1h)
}

// ReaperConfig controls the idle reaper's scan cadence and default timeout.
type ReaperConfig struct {
	CheckInterval      time.Duration // How often the reaper scans active sessions (default: 30s)
	DefaultIdleTimeout time.Duration // Idle timeout applied when an environment has no override (default: 10m)
}

// ReconnectConfig holds client reconnect backoff bounds. Load reads them
// and Validate checks MaxAttempts; the websocket gateway is not given
// them and neither advertises nor enforces them.
type ReconnectConfig struct {
	MaxAttempts int           // Max reconnect attempts before giving up (default: 5)
	BaseDelay   time.Duration // Base exponential backoff delay (default: 500ms)
	MaxDelay    time.Duration // Backoff ceiling (default: 30s)
}

// RetryConfig holds retry-related configuration for the session store.
type RetryConfig struct {
	DatabaseMaxRetries     int           // Max database retry attempts (default: 3)
	DatabaseRetryBaseDelay time.Duration // Base delay for DB retries (default: 50ms)
}

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	HealthTimeout time.Duration // Health check DB timeout

	Sandbox   SandboxConfig
	Journal   JournalConfig
	Reaper    ReaperConfig
	Reconnect ReconnectConfig
	Retry     RetryConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/relay.db"),
		HealthTimeout: getEnvDuration("RELAY_HEALTH_CHECK_TIMEOUT", 5*time.Second),

		Sandbox: SandboxConfig{
			MemoryLimitBytes:    getEnvInt64("RELAY_SANDBOX_MEMORY_LIMIT", 512*1024*1024),
			CPUQuota:            getEnvInt64("RELAY_SANDBOX_CPU_QUOTA", 50000),
			PidsLimit:           getEnvInt64("RELAY_SANDBOX_PIDS_LIMIT", 256),
			CreateRetryAttempts: getEnvInt("RELAY_SANDBOX_CREATE_RETRY_ATTEMPTS", 20),
			CreateRetryDelay:    getEnvDuration("RELAY_SANDBOX_CREATE_RETRY_DELAY", 250*time.Millisecond),
			CreateTimeout:       getEnvDuration("RELAY_SANDBOX_CREATE_TIMEOUT", 2*time.Minute),
			StopTimeout:         getEnvDuration("RELAY_SANDBOX_STOP_TIMEOUT", 10*time.Second),
			Runtime:             getEnv("RELAY_SANDBOX_RUNTIME", ""),
			Image:               getEnv("RELAY_SANDBOX_IMAGE", "sessionrelay/sandbox:latest"),
		},
		Journal: JournalConfig{
			RetentionPeriod: getEnvDuration("RELAY_JOURNAL_RETENTION", 72*time.Hour),
			PruneInterval:   getEnvDuration("RELAY_JOURNAL_PRUNE_INTERVAL", time.Hour),
		},
		Reaper: ReaperConfig{
			CheckInterval:      getEnvDuration("RELAY_REAPER_CHECK_INTERVAL", 30*time.Second),
			DefaultIdleTimeout: getEnvDuration("RELAY_REAPER_DEFAULT_IDLE_TIMEOUT", 10*time.Minute),
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: getEnvInt("RELAY_RECONNECT_MAX_ATTEMPTS", 5),
			BaseDelay:   getEnvDuration("RELAY_RECONNECT_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    getEnvDuration("RELAY_RECONNECT_MAX_DELAY", 30*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("RELAY_DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("RELAY_DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Reaper.CheckInterval <= 0 {
		return fmt.Errorf("RELAY_REAPER_CHECK_INTERVAL must be > 0")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("RELAY_RECONNECT_MAX_ATTEMPTS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
