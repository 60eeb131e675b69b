package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	Reset()
	t.Setenv("INCUBATOR_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("SENDGRID_API_KEY", "test-sendgrid-key")
	t.Setenv("STRIPE_SECRET_KEY", "test-stripe-key")

	require.NoError(t, LoadFromEnv())

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, DefaultSwitchLimit, cfg.SwitchLimit)
	assert.Equal(t, DefaultTurnTimeout, cfg.TurnTimeout)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
}

func TestLoadFromEnvMissingProviderKey(t *testing.T) {
	Reset()
	t.Setenv("INCUBATOR_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")

	err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestLoadFromEnvMissingSendGridKey(t *testing.T) {
	Reset()
	t.Setenv("INCUBATOR_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("SENDGRID_API_KEY", "")
	t.Setenv("STRIPE_SECRET_KEY", "test-stripe-key")

	err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SENDGRID_API_KEY")
}

func TestLoadFromEnvMissingStripeKey(t *testing.T) {
	Reset()
	t.Setenv("INCUBATOR_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("SENDGRID_API_KEY", "test-sendgrid-key")
	t.Setenv("STRIPE_SECRET_KEY", "")

	err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
}

func TestLoadFromEnvUnknownProvider(t *testing.T) {
	Reset()
	t.Setenv("INCUBATOR_PROVIDER", "bedrock")

	err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown LLM provider")
}

func TestLoadFromEnvOverrides(t *testing.T) {
	Reset()
	t.Setenv("INCUBATOR_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("SENDGRID_API_KEY", "test-sendgrid-key")
	t.Setenv("STRIPE_SECRET_KEY", "test-stripe-key")
	t.Setenv("INCUBATOR_MODEL", "claude-opus-4-20250514")
	t.Setenv("INCUBATOR_SWITCH_LIMIT", "3")
	t.Setenv("INCUBATOR_TURN_TIMEOUT", "30s")

	require.NoError(t, LoadFromEnv())

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-20250514", cfg.Model)
	assert.Equal(t, 3, cfg.SwitchLimit)
	assert.Equal(t, 30*time.Second, cfg.TurnTimeout)
}

func TestLoadFromEnvBadSwitchLimit(t *testing.T) {
	Reset()
	t.Setenv("INCUBATOR_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("SENDGRID_API_KEY", "test-sendgrid-key")
	t.Setenv("STRIPE_SECRET_KEY", "test-stripe-key")
	t.Setenv("INCUBATOR_SWITCH_LIMIT", "-1")

	require.Error(t, LoadFromEnv())
}

func TestGetConfigNotLoaded(t *testing.T) {
	Reset()
	_, err := GetConfig()
	require.Error(t, err)
}

func TestGetConfigReturnsCopy(t *testing.T) {
	Reset()
	require.NoError(t, Set(Config{
		Provider:        ProviderOpenAI,
		OpenAIAPIKey:    "test-key",
		SendGridAPIKey:  "test-sendgrid-key",
		StripeSecretKey: "test-stripe-key",
		Model:           "gpt-4o",
		SwitchLimit:     DefaultSwitchLimit,
		TurnTimeout:     DefaultTurnTimeout,
	}))

	cfg, err := GetConfig()
	require.NoError(t, err)
	cfg.SwitchLimit = 99

	again, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultSwitchLimit, again.SwitchLimit)
}
