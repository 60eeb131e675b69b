// Package config provides configuration loading, validation, and management for the service.
//
// KEY PRINCIPLES:
//
//  1. ENVIRONMENT FIRST: All credentials and tunables come from environment
//     variables. Nothing secret is ever written to disk.
//
//  2. GLOBAL SINGLETON: A single global Config instance is maintained in memory,
//     protected by mutex for thread safety.
//
//  3. VALUE-BASED ACCESS: GetConfig() returns the config BY VALUE (copy, not
//     reference) to prevent external mutation.
//
//  4. VALIDATION FIRST: LoadFromEnv validates before installing the config.
//     A missing provider credential is a startup failure, not a runtime surprise.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// LLM provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Default tunables. SwitchLimit is the hard ceiling on entity-type switches
// per conversation; changing it changes the product, not just a knob.
const (
	DefaultSwitchLimit = 2
	DefaultTurnTimeout = 60 * time.Second
	DefaultListenAddr  = ":8080"
	DefaultDataDir     = "data"
	DefaultSiteURL     = "http://localhost:8080"
)

// Config holds all service settings. Loaded once at startup from environment.
type Config struct {
	// LLM provider selection and credentials.
	Provider        string
	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Email delivery for verification codes.
	SendGridAPIKey string
	MailFrom       string
	MailFromName   string

	// Payment provider.
	StripeSecretKey string

	// Public base URL used to build checkout return links.
	SiteURL string

	// Service settings.
	ListenAddr  string
	DataDir     string
	SwitchLimit int
	TurnTimeout time.Duration
}

var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// defaultModelFor returns the default model for a provider when INCUBATOR_MODEL
// is not set.
func defaultModelFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	default:
		return "gpt-4o"
	}
}

// LoadFromEnv builds the config from environment variables, validates it, and
// installs it as the global singleton.
func LoadFromEnv() error {
	cfg := Config{
		Provider:        envOr("INCUBATOR_PROVIDER", ProviderOpenAI),
		Model:           os.Getenv("INCUBATOR_MODEL"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		SendGridAPIKey:  os.Getenv("SENDGRID_API_KEY"),
		MailFrom:        envOr("MAIL_FROM", "no-reply@incubator.local"),
		MailFromName:    envOr("MAIL_FROM_NAME", "IncorporationAI"),
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		SiteURL:         envOr("INCUBATOR_SITE_URL", DefaultSiteURL),
		ListenAddr:      envOr("INCUBATOR_ADDR", DefaultListenAddr),
		DataDir:         envOr("INCUBATOR_DATA_DIR", DefaultDataDir),
		SwitchLimit:     DefaultSwitchLimit,
		TurnTimeout:     DefaultTurnTimeout,
	}

	if cfg.Model == "" {
		cfg.Model = defaultModelFor(cfg.Provider)
	}

	if v := os.Getenv("INCUBATOR_SWITCH_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid INCUBATOR_SWITCH_LIMIT %q", v)
		}
		cfg.SwitchLimit = n
	}

	if v := os.Getenv("INCUBATOR_TURN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid INCUBATOR_TURN_TIMEOUT %q", v)
		}
		cfg.TurnTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	configMutex.Lock()
	globalConfig = &cfg
	configMutex.Unlock()
	return nil
}

// Validate checks that the config is complete enough to start the service.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", c.Provider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.Provider)
		}
	default:
		return fmt.Errorf("unknown LLM provider %q", c.Provider)
	}

	// Delivery and payment credentials are exercised mid-conversation; a
	// missing one is a startup failure, not a runtime surprise.
	if c.SendGridAPIKey == "" {
		return fmt.Errorf("SENDGRID_API_KEY is required")
	}
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	if c.SwitchLimit < 0 {
		return fmt.Errorf("switch limit must be non-negative, got %d", c.SwitchLimit)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn timeout must be positive, got %v", c.TurnTimeout)
	}
	return nil
}

// GetConfig returns a copy of the global config. LoadFromEnv (or Set) must have
// been called first.
func GetConfig() (Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return Config{}, fmt.Errorf("config not loaded")
	}
	return *globalConfig, nil
}

// Set installs cfg as the global config after validation. Intended for tests
// and embedding callers that assemble the config themselves.
func Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	configMutex.Lock()
	globalConfig = &cfg
	configMutex.Unlock()
	return nil
}

// Reset clears the global config. Test helper.
func Reset() {
	configMutex.Lock()
	globalConfig = nil
	configMutex.Unlock()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
