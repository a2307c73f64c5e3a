package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DOCPILOT_API_KEY", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
		"ANTHROPIC_URL", "MODEL_MAX_INPUT_TOKENS", "BATCH_SIZE", "MAX_ATTEMPTS",
		"DOCPILOT_DATA_DIR", "MAX_BODY_BYTES", "REQUEST_TIMEOUT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8091", cfg.Port)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.AnthropicModel)
	assert.Equal(t, "https://api.anthropic.com", cfg.AnthropicURL)
	assert.Equal(t, 200000, cfg.ModelMaxInputTokens)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, int64(20971520), cfg.MaxBodyBytes)
	assert.Equal(t, 10*time.Minute, cfg.RequestTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("MODEL_MAX_INPUT_TOKENS", "100000")
	t.Setenv("BATCH_SIZE", "5")
	t.Setenv("MAX_ATTEMPTS", "4")
	t.Setenv("REQUEST_TIMEOUT", "30s")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
	assert.Equal(t, 100000, cfg.ModelMaxInputTokens)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoad_RejectsNonsenseValues(t *testing.T) {
	t.Setenv("BATCH_SIZE", "-2")
	t.Setenv("MAX_ATTEMPTS", "zero")
	t.Setenv("MODEL_MAX_INPUT_TOKENS", "-5")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 200000, cfg.ModelMaxInputTokens)
	assert.Equal(t, 10*time.Minute, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())

	cfg.AnthropicAPIKey = "sk-test"
	require.NoError(t, cfg.Validate())
}
