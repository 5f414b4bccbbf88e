// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir            string // Base directory for state.db and cache.db (always absolute)
	APIBaseURL         string // Remote accounting service
	Currency           string // ISO code used when formatting amounts
	LogLevel           string
	Port               int
	DevMode            bool
	RequestTimeout     time.Duration
	HealthPollInterval time.Duration
	DrainInterval      time.Duration // 0 disables the fallback drain ticker
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LEDGERSYNC_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".ledgersync")
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		APIBaseURL:         strings.TrimRight(getEnv("LEDGERSYNC_API_URL", "http://localhost:9000"), "/"),
		Currency:           strings.ToUpper(getEnv("LEDGERSYNC_CURRENCY", "EUR")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnvAsInt("GO_PORT", 8001),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		RequestTimeout:     getEnvAsDuration("REQUEST_TIMEOUT", 20*time.Second),
		HealthPollInterval: getEnvAsDuration("HEALTH_POLL_INTERVAL", 30*time.Second),
		DrainInterval:      getEnvAsDuration("DRAIN_INTERVAL", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("LEDGERSYNC_API_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("LEDGERSYNC_CURRENCY must be a 3-letter ISO code, got %q", c.Currency)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT out of range: %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.HealthPollInterval < time.Second {
		return fmt.Errorf("HEALTH_POLL_INTERVAL must be at least 1s")
	}
	if c.DrainInterval < 0 {
		return fmt.Errorf("DRAIN_INTERVAL must not be negative")
	}
	return nil
}

// StatePath is the sqlite file holding the queue, session and health status.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// CachePath is the sqlite file holding cached API responses.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("30s") or plain seconds ("30").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
