// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ProviderConfig holds the settings of one language-model provider.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	DBPath        string
	SecretKey     []byte // nil when DECISIONLOG_SECRET_KEY is unset; the vault is then unusable.
	GitHubBaseURL string

	SyncInterval    time.Duration // Zero disables scheduled syncs.
	SyncConcurrency int

	AutoExtract          bool
	ProviderTimeout      time.Duration
	DailyExtractionLimit int

	Anthropic ProviderConfig
	OpenAI    ProviderConfig
}

// HasExtraction returns true when at least one provider is configured. Without
// one the pipeline still fetches and sieves, and approvals are rejected.
func (c *Config) HasExtraction() bool {
	return c.Anthropic.Enabled() || c.OpenAI.Enabled()
}

// Load reads configuration from environment variables and returns a validated Config.
// All variables are optional. Defaults: DECISIONLOG_LISTEN_ADDR (127.0.0.1:8080),
// DECISIONLOG_DB_PATH (decisionlog.db), DECISIONLOG_SYNC_INTERVAL (15m),
// DECISIONLOG_SYNC_CONCURRENCY (4), DECISIONLOG_AUTO_EXTRACT (true),
// DECISIONLOG_PROVIDER_TIMEOUT (60s), DECISIONLOG_DAILY_EXTRACTION_LIMIT (20).
// DECISIONLOG_SECRET_KEY, when set, must be 64 hex characters (32 bytes).
func Load() (*Config, error) {
	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("DECISIONLOG_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "decisionlog.db"
	if v, ok := os.LookupEnv("DECISIONLOG_DB_PATH"); ok {
		dbPath = v
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("DECISIONLOG_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("DECISIONLOG_SECRET_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("DECISIONLOG_SECRET_KEY must decode to 32 bytes, got %d", len(key))
		}
		secretKey = key
	}

	syncInterval, err := durationEnv("DECISIONLOG_SYNC_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	if syncInterval < 0 {
		return nil, fmt.Errorf("DECISIONLOG_SYNC_INTERVAL must not be negative, got %s", syncInterval)
	}

	providerTimeout, err := durationEnv("DECISIONLOG_PROVIDER_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	if providerTimeout <= 0 {
		return nil, fmt.Errorf("DECISIONLOG_PROVIDER_TIMEOUT must be positive, got %s", providerTimeout)
	}

	syncConcurrency, err := positiveIntEnv("DECISIONLOG_SYNC_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	dailyLimit, err := positiveIntEnv("DECISIONLOG_DAILY_EXTRACTION_LIMIT", 20)
	if err != nil {
		return nil, err
	}

	autoExtract := true
	if v, ok := os.LookupEnv("DECISIONLOG_AUTO_EXTRACT"); ok && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("DECISIONLOG_AUTO_EXTRACT has invalid boolean %q: %w", v, err)
		}
		autoExtract = parsed
	}

	return &Config{
		ListenAddr:           listenAddr,
		DBPath:               dbPath,
		SecretKey:            secretKey,
		GitHubBaseURL:        os.Getenv("DECISIONLOG_GITHUB_BASE_URL"),
		SyncInterval:         syncInterval,
		SyncConcurrency:      syncConcurrency,
		AutoExtract:          autoExtract,
		ProviderTimeout:      providerTimeout,
		DailyExtractionLimit: dailyLimit,
		Anthropic: ProviderConfig{
			APIKey:  os.Getenv("DECISIONLOG_ANTHROPIC_API_KEY"),
			Model:   os.Getenv("DECISIONLOG_ANTHROPIC_MODEL"),
			BaseURL: os.Getenv("DECISIONLOG_ANTHROPIC_BASE_URL"),
		},
		OpenAI: ProviderConfig{
			APIKey:  os.Getenv("DECISIONLOG_OPENAI_API_KEY"),
			Model:   os.Getenv("DECISIONLOG_OPENAI_MODEL"),
			BaseURL: os.Getenv("DECISIONLOG_OPENAI_BASE_URL"),
		},
	}, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	return parsed, nil
}

func positiveIntEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be at least 1, got %d", key, n)
	}
	return n, nil
}
