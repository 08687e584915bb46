// Package config loads and validates the core's configuration from YAML or
// JSON5 files, with $include resolution and environment variable expansion.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// LLM routing modes.
const (
	ModeProxy = "proxy"
	ModeLocal = "local"
)

// Provider kinds understood by the adapter layer.
const (
	KindProxy     = "proxy"
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
	KindGroq      = "groq"
	KindGoogle    = "google"
	KindOllama    = "ollama"
)

// Config is the root configuration for the orchestration core.
type Config struct {
	Version     int               `yaml:"version"`
	API         APIConfig         `yaml:"api"`
	LLM         LLMConfig         `yaml:"llm"`
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	validated bool
}

// APIConfig configures the backend the core authenticates against.
type APIConfig struct {
	// SupabaseConfigURL points at the public endpoint serving the Supabase
	// project url and anon key. Empty falls back to the built-in default.
	SupabaseConfigURL string `yaml:"supabase_config_url"`
	Environment       string `yaml:"environment"`
}

// LLMConfig selects routing mode and declares the provider fleet.
type LLMConfig struct {
	// Mode is "proxy" (all traffic through the backend proxy) or "local"
	// (direct vendor calls using configured keys).
	Mode      string                    `yaml:"mode"`
	Providers map[string]ProviderConfig `yaml:"providers"`

	// ModelProviders maps a model id to the provider entry that serves it
	// in local mode.
	ModelProviders map[string]string `yaml:"model_providers"`

	DefaultModel string `yaml:"default_model"`

	// UserPrefs are per-user request parameter overrides, applied between
	// explicit request values and interaction-type defaults.
	UserPrefs RequestPrefs `yaml:"user_prefs"`
}

// ProviderConfig configures one provider entry.
type ProviderConfig struct {
	Kind         string `yaml:"kind"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// RequestPrefs are optional user-level request parameter preferences.
// Nil fields mean "no preference".
type RequestPrefs struct {
	Temperature      *float64 `yaml:"temperature"`
	MaxTokens        *int     `yaml:"max_tokens"`
	ExtendedThinking *bool    `yaml:"extended_thinking"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// PersistenceConfig selects the persistence sink.
type PersistenceConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// SessionConfig configures session and API-token lifecycle.
type SessionConfig struct {
	// TokenCleanupSchedule is a cron expression for expired-token sweeps.
	TokenCleanupSchedule string `yaml:"token_cleanup_schedule"`

	// RefreshSafetyMargin is subtracted from the access token's expiry when
	// scheduling a refresh.
	RefreshSafetyMargin time.Duration `yaml:"refresh_safety_margin"`

	TokenTTL time.Duration `yaml:"token_ttl"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles prometheus registration and exposition.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for the /metrics endpoint.
	Addr string `yaml:"addr"`
}

// Default returns a configuration with working defaults: proxy mode, caching
// on, in-memory persistence.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		LLM: LLMConfig{
			Mode:           ModeProxy,
			Providers:      map[string]ProviderConfig{},
			ModelProviders: map[string]string{},
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     72 * time.Hour,
		},
		Persistence: PersistenceConfig{
			Driver: "memory",
		},
		Session: SessionConfig{
			TokenCleanupSchedule: "@hourly",
			RefreshSafetyMargin:  5 * time.Minute,
			TokenTTL:             30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Enabled: true, Addr: "127.0.0.1:9090"},
	}
}

// Validate normalizes and checks the configuration. It is idempotent: a
// second call on an already-validated config is a no-op returning nil.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.validated {
		return nil
	}

	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}

	if c.API.SupabaseConfigURL != "" {
		parsed, err := url.Parse(c.API.SupabaseConfigURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("api.supabase_config_url must be an http(s) URL: %q", c.API.SupabaseConfigURL)
		}
	}

	switch c.LLM.Mode {
	case "":
		c.LLM.Mode = ModeProxy
	case ModeProxy, ModeLocal:
	default:
		return fmt.Errorf("llm.mode must be %q or %q: %q", ModeProxy, ModeLocal, c.LLM.Mode)
	}

	if c.LLM.Providers == nil {
		c.LLM.Providers = map[string]ProviderConfig{}
	}
	if c.LLM.ModelProviders == nil {
		c.LLM.ModelProviders = map[string]string{}
	}
	for name, provider := range c.LLM.Providers {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}
	for model, providerName := range c.LLM.ModelProviders {
		if _, ok := c.LLM.Providers[providerName]; !ok {
			return fmt.Errorf("llm.model_providers[%s] references unknown provider %q", model, providerName)
		}
	}

	if c.LLM.Mode == ModeLocal && len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.mode is local but no providers are configured")
	}

	if prefs := c.LLM.UserPrefs; prefs.Temperature != nil {
		if *prefs.Temperature < 0 || *prefs.Temperature > 1 {
			return fmt.Errorf("llm.user_prefs.temperature must be in [0,1]: %v", *prefs.Temperature)
		}
	}
	if prefs := c.LLM.UserPrefs; prefs.MaxTokens != nil && *prefs.MaxTokens <= 0 {
		return fmt.Errorf("llm.user_prefs.max_tokens must be positive: %d", *prefs.MaxTokens)
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be non-negative")
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 72 * time.Hour
	}

	switch c.Persistence.Driver {
	case "":
		c.Persistence.Driver = "memory"
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Persistence.Path) == "" {
			return fmt.Errorf("persistence.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("persistence.driver must be \"sqlite\" or \"memory\": %q", c.Persistence.Driver)
	}

	if c.Session.TokenCleanupSchedule == "" {
		c.Session.TokenCleanupSchedule = "@hourly"
	}
	if c.Session.RefreshSafetyMargin <= 0 {
		c.Session.RefreshSafetyMargin = 5 * time.Minute
	}
	if c.Session.TokenTTL <= 0 {
		c.Session.TokenTTL = 30 * 24 * time.Hour
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.validated = true
	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	switch provider.Kind {
	case KindProxy, KindOllama:
		// No API key required.
	case KindAnthropic, KindOpenAI, KindGroq, KindGoogle:
		if strings.TrimSpace(provider.APIKey) == "" {
			return fmt.Errorf("llm.providers[%s]: kind %q requires an api_key", name, provider.Kind)
		}
	case "":
		return fmt.Errorf("llm.providers[%s]: kind is required", name)
	default:
		return fmt.Errorf("llm.providers[%s]: unknown kind %q", name, provider.Kind)
	}
	if provider.BaseURL != "" {
		parsed, err := url.Parse(provider.BaseURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("llm.providers[%s]: base_url must be an http(s) URL: %q", name, provider.BaseURL)
		}
	}
	return nil
}

// ProviderForModel resolves the provider entry serving model. In proxy mode
// every model routes to the first proxy-kind provider (or an implicit one).
func (c *Config) ProviderForModel(model string) (string, ProviderConfig, error) {
	if c.LLM.Mode == ModeProxy {
		for name, provider := range c.LLM.Providers {
			if provider.Kind == KindProxy {
				return name, provider, nil
			}
		}
		return "proxy", ProviderConfig{Kind: KindProxy}, nil
	}
	name, ok := c.LLM.ModelProviders[model]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("no provider mapped for model %q", model)
	}
	return name, c.LLM.Providers[name], nil
}
