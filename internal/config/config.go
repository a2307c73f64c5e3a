package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Service auth. Empty disables auth (local use).
	APIKey string

	// Anthropic model access
	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicURL    string

	// Advertised model input-token ceiling; chunk budgets derive from it.
	ModelMaxInputTokens int

	// Pipeline tuning
	BatchSize   int
	MaxAttempts int

	// Cache storage directory. Empty means ~/.docpilot/data.
	DataDir string

	// Request limits
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Load reads configuration from the environment, after loading a local .env
// file when one exists.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8091"),

		APIKey: os.Getenv("DOCPILOT_API_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		AnthropicURL:    envOr("ANTHROPIC_URL", "https://api.anthropic.com"),

		ModelMaxInputTokens: envInt("MODEL_MAX_INPUT_TOKENS", 200000),

		BatchSize:   envInt("BATCH_SIZE", 3),
		MaxAttempts: envInt("MAX_ATTEMPTS", 2),

		DataDir: os.Getenv("DOCPILOT_DATA_DIR"),

		MaxBodyBytes:   envInt64("MAX_BODY_BYTES", 20971520), // 20MB
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 10*time.Minute),
	}

	if cfg.ModelMaxInputTokens <= 0 {
		cfg.ModelMaxInputTokens = 200000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 20971520
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}

	return cfg
}

func (c Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
