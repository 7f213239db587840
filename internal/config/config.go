// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig holds the settings of one payment provider.
type ProviderConfig struct {
	Enabled bool
	// TestMode is the default test-mode flag for credentials added via the CLI.
	TestMode     bool
	BaseURL      string // Empty uses the provider's production API.
	TokenURL     string // Empty uses the provider's production token endpoint.
	ClientID     string // OAuth application, needed only for token refresh.
	ClientSecret string
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string
	ListenAddr string
	// SecretKey encrypts stored provider credentials. Nil disables credential storage.
	SecretKey []byte

	CacheTTL       time.Duration
	MatchWindow    time.Duration
	Workers        int
	MaxRetries     int
	CallTimeout    time.Duration
	RefreshMargin  time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// AutoSyncInterval is zero when automatic sync is off.
	AutoSyncInterval   time.Duration
	AutoSyncOrganizers []string

	LogLevel  slog.Level
	LogFormat string // "text" or "json"

	Mollie ProviderConfig
	SumUp  ProviderConfig
}

// Load reads configuration from FEESYNC_ environment variables and returns a
// validated Config. Every variable is optional; invalid values fail fast with
// the variable name in the error.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:     envString("FEESYNC_DB_PATH", "feesync.db"),
		ListenAddr: envString("FEESYNC_LISTEN_ADDR", "127.0.0.1:8080"),
		LogFormat:  strings.ToLower(envString("FEESYNC_LOG_FORMAT", "text")),
	}

	var err error
	if cfg.SecretKey, err = secretKey("FEESYNC_SECRET_KEY"); err != nil {
		return nil, err
	}

	ttlSeconds, err := envInt("FEESYNC_CACHE_TTL_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	if ttlSeconds <= 0 {
		return nil, fmt.Errorf("FEESYNC_CACHE_TTL_SECONDS must be positive, got %d", ttlSeconds)
	}
	cfg.CacheTTL = time.Duration(ttlSeconds) * time.Second

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"FEESYNC_MATCH_WINDOW", 48 * time.Hour, &cfg.MatchWindow},
		{"FEESYNC_CALL_TIMEOUT", 30 * time.Second, &cfg.CallTimeout},
		{"FEESYNC_REFRESH_MARGIN", 5 * time.Minute, &cfg.RefreshMargin},
		{"FEESYNC_BACKOFF_INITIAL", time.Second, &cfg.BackoffInitial},
		{"FEESYNC_BACKOFF_MAX", 30 * time.Second, &cfg.BackoffMax},
	}
	for _, d := range durations {
		if *d.dest, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		return nil, fmt.Errorf("FEESYNC_BACKOFF_MAX (%s) is below FEESYNC_BACKOFF_INITIAL (%s)", cfg.BackoffMax, cfg.BackoffInitial)
	}

	if cfg.Workers, err = envInt("FEESYNC_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("FEESYNC_WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxRetries, err = envInt("FEESYNC_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("FEESYNC_MAX_RETRIES must not be negative, got %d", cfg.MaxRetries)
	}

	if cfg.AutoSyncInterval, err = autoSyncInterval("FEESYNC_AUTO_SYNC_INTERVAL"); err != nil {
		return nil, err
	}
	cfg.AutoSyncOrganizers = envList("FEESYNC_AUTO_SYNC_ORGANIZERS")

	if err := cfg.LogLevel.UnmarshalText([]byte(envString("FEESYNC_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("FEESYNC_LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("FEESYNC_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if cfg.Mollie, err = providerConfig("FEESYNC_MOLLIE_"); err != nil {
		return nil, err
	}
	if cfg.SumUp, err = providerConfig("FEESYNC_SUMUP_"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewLogger builds the slog logger described by the configuration.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func providerConfig(prefix string) (ProviderConfig, error) {
	var pc ProviderConfig
	var err error
	if pc.Enabled, err = envBool(prefix+"ENABLED", true); err != nil {
		return pc, err
	}
	if pc.TestMode, err = envBool(prefix+"TEST_MODE", false); err != nil {
		return pc, err
	}
	pc.BaseURL = envString(prefix+"BASE_URL", "")
	pc.TokenURL = envString(prefix+"TOKEN_URL", "")
	pc.ClientID = envString(prefix+"CLIENT_ID", "")
	pc.ClientSecret = envString(prefix+"CLIENT_SECRET", "")
	return pc, nil
}

// secretKey decodes a hex-encoded 32-byte AES-256 key. Absent means nil.
func secretKey(key string) ([]byte, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex encoded: %w", key, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes (64 hex characters), got %d bytes", key, len(b))
	}
	return b, nil
}

func autoSyncInterval(key string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "", "off", "none":
		return 0, nil
	case "hourly":
		return time.Hour, nil
	case "6hours":
		return 6 * time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be hourly, 6hours, daily or a duration, got %q", key, v)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("%s must be at least 1m, got %s", key, d)
	}
	return d, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func envList(key string) []string {
	out := []string{}
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
