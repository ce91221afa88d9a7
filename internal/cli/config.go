package cli

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/brewkit/lmctl/internal/apiclient"
	"github.com/brewkit/lmctl/internal/auth"
	"github.com/brewkit/lmctl/internal/readiness"
	"github.com/brewkit/lmctl/internal/session"
	"github.com/brewkit/lmctl/internal/store"
)

type Config struct {
	BaseURL    string // Optional: cloud API base URL
	ConfigFile string // Optional: path to the credential file (default: ~/.lmctl.yml)

	Email    string // Optional: account email, skips the interactive prompt
	Password string // Optional: account password, skips the interactive prompt

	HTTPTimeout       time.Duration // Optional: per-request HTTP timeout (default: 15s)
	TokenSafetyMargin time.Duration // Optional: refresh tokens this long before expiry (default: 60s)
	TokenTTL          time.Duration // Optional: assumed token lifetime when the token carries no expiry (default: 1h)
	RetryBase         time.Duration // Optional: first retry delay for transient API failures (default: 500ms)
	RetryAttempts     int           // Optional: retries after the initial attempt (default: 3)

	PollInterval    time.Duration // Optional: initial readiness poll interval (default: 2s)
	PollMaxInterval time.Duration // Optional: poll interval cap (default: 30s)
	PollTimeout     time.Duration // Optional: give up waiting for readiness after this (default: 5m)

	LogLevel  string // Log level (debug, info, warn, error) (default: warn)
	LogFormat string // Log format (text, json) (default: text)
}

func LoadConfig() Config {
	// A .env in the working directory is handy during development. Missing
	// files are fine, the real environment still wins.
	_ = godotenv.Load()

	// Fall back to the working directory when the home directory cannot be
	// determined, rather than failing before a command even runs.
	defaultConfig, err := store.DefaultPath()
	if err != nil {
		defaultConfig = ".lmctl.yml"
	}

	return Config{
		BaseURL:    getEnvOrDefault("LMCTL_BASE_URL", auth.DefaultBaseURL),
		ConfigFile: getEnvOrDefault("LMCTL_CONFIG_FILE", defaultConfig),

		Email:    os.Getenv("LMCTL_EMAIL"),
		Password: os.Getenv("LMCTL_PASSWORD"),

		HTTPTimeout:       getEnvDurationOrDefault("LMCTL_HTTP_TIMEOUT", 15*time.Second),
		TokenSafetyMargin: getEnvDurationOrDefault("LMCTL_TOKEN_SAFETY_MARGIN", session.DefaultSafetyMargin),
		TokenTTL:          getEnvDurationOrDefault("LMCTL_TOKEN_TTL", auth.DefaultTokenTTL),
		RetryBase:         getEnvDurationOrDefault("LMCTL_RETRY_BASE", apiclient.DefaultRetryBase),
		RetryAttempts:     getEnvIntOrDefault("LMCTL_RETRY_ATTEMPTS", apiclient.DefaultRetryAttempts),

		PollInterval:    getEnvDurationOrDefault("LMCTL_POLL_INTERVAL", readiness.DefaultInterval),
		PollMaxInterval: getEnvDurationOrDefault("LMCTL_POLL_MAX_INTERVAL", readiness.DefaultMaxInterval),
		PollTimeout:     getEnvDurationOrDefault("LMCTL_POLL_TIMEOUT", readiness.DefaultTimeout),

		LogLevel:  getEnvOrDefault("LMCTL_LOG_LEVEL", "warn"),
		LogFormat: getEnvOrDefault("LMCTL_LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Accept durations like "90s" or "2m".
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are taken as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
