// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Secret backends.
const (
	SecretBackendEnv     = "env"
	SecretBackendKeyring = "keyring"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	Storage    string
	LogLevel   slog.Level

	SecretKey     string
	SecretBackend string

	DispatchInterval time.Duration
	DispatchWorkers  int
	RefreshMargin    time.Duration
	RefreshTimeout   time.Duration
	PublishTimeout   time.Duration
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	MediaDir          string
	PlatformAPIURL    string
	PlatformRateLimit float64

	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthRedirectURL  string

	APIJWTSecret string
}

// HasOAuthApp returns true when the OAuth client credentials are set. Without
// them accounts cannot be connected or refreshed, but stored posts can still
// be managed.
func (c *Config) HasOAuthApp() bool {
	return c.OAuthClientID != "" && c.OAuthClientSecret != ""
}

// Load reads configuration from REELQUEUE_ environment variables and returns
// a validated Config. Every variable is optional; see the field defaults below.
// REELQUEUE_SECRET_KEY is required at runtime only with the env secret backend,
// and its absence surfaces when a token is first sealed or opened.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        stringEnv("REELQUEUE_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:            stringEnv("REELQUEUE_DB_PATH", "reelqueue.db"),
		Storage:           strings.ToLower(stringEnv("REELQUEUE_STORAGE", StorageSQLite)),
		SecretKey:         os.Getenv("REELQUEUE_SECRET_KEY"),
		SecretBackend:     strings.ToLower(stringEnv("REELQUEUE_SECRET_BACKEND", SecretBackendEnv)),
		MediaDir:          stringEnv("REELQUEUE_MEDIA_DIR", "media"),
		PlatformAPIURL:    os.Getenv("REELQUEUE_PLATFORM_API_URL"),
		OAuthClientID:     os.Getenv("REELQUEUE_OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("REELQUEUE_OAUTH_CLIENT_SECRET"),
		OAuthAuthURL:      os.Getenv("REELQUEUE_OAUTH_AUTH_URL"),
		OAuthTokenURL:     os.Getenv("REELQUEUE_OAUTH_TOKEN_URL"),
		OAuthRedirectURL:  os.Getenv("REELQUEUE_OAUTH_REDIRECT_URL"),
		APIJWTSecret:      os.Getenv("REELQUEUE_API_JWT_SECRET"),
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"REELQUEUE_DISPATCH_INTERVAL", time.Minute, &cfg.DispatchInterval},
		{"REELQUEUE_REFRESH_MARGIN", 5 * time.Minute, &cfg.RefreshMargin},
		{"REELQUEUE_REFRESH_TIMEOUT", 30 * time.Second, &cfg.RefreshTimeout},
		{"REELQUEUE_PUBLISH_TIMEOUT", 2 * time.Minute, &cfg.PublishTimeout},
		{"REELQUEUE_RETRY_BASE_DELAY", time.Minute, &cfg.RetryBaseDelay},
		{"REELQUEUE_RETRY_MAX_DELAY", time.Hour, &cfg.RetryMaxDelay},
	}
	for _, d := range durations {
		if *d.dest, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.DispatchWorkers, err = intEnv("REELQUEUE_DISPATCH_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = intEnv("REELQUEUE_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.PlatformRateLimit, err = floatEnv("REELQUEUE_PLATFORM_RATE_LIMIT", 2); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("REELQUEUE_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("REELQUEUE_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("REELQUEUE_STORAGE must be %q or %q, got %q", StorageSQLite, StorageMemory, c.Storage)
	}

	switch c.SecretBackend {
	case SecretBackendEnv, SecretBackendKeyring:
	default:
		return fmt.Errorf("REELQUEUE_SECRET_BACKEND must be %q or %q, got %q", SecretBackendEnv, SecretBackendKeyring, c.SecretBackend)
	}

	if c.DispatchWorkers < 1 {
		return fmt.Errorf("REELQUEUE_DISPATCH_WORKERS must be at least 1, got %d", c.DispatchWorkers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("REELQUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryBaseDelay > c.RetryMaxDelay {
		return fmt.Errorf("REELQUEUE_RETRY_BASE_DELAY (%s) exceeds REELQUEUE_RETRY_MAX_DELAY (%s)", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.PlatformRateLimit <= 0 {
		return fmt.Errorf("REELQUEUE_PLATFORM_RATE_LIMIT must be positive, got %g", c.PlatformRateLimit)
	}
	return nil
}

func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	return parsed, nil
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	return parsed, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid number %q: %w", key, v, err)
	}
	return parsed, nil
}
