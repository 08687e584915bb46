package llm

import (
	"github.com/beyondbetter/bb-core/internal/config"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// InteractionType selects the default parameter profile for an interaction.
type InteractionType string

const (
	InteractionChat         InteractionType = "chat"
	InteractionConversation InteractionType = "conversation"
	InteractionBase         InteractionType = "base"
)

// ModelCapabilities are the static capabilities of one model.
type ModelCapabilities struct {
	ContextWindow    int
	MaxOutputTokens  int
	SupportsTools    bool
	SupportsImages   bool
	SupportsThinking bool

	DefaultTemperature float64
	DefaultMaxTokens   int
}

// defaultCapabilities are the conservative fallback for unknown models.
var defaultCapabilities = ModelCapabilities{
	ContextWindow:      8192,
	MaxOutputTokens:    4096,
	SupportsTools:      false,
	SupportsImages:     false,
	SupportsThinking:   false,
	DefaultTemperature: 0.5,
	DefaultMaxTokens:   4096,
}

// ModelRegistry resolves per-model capabilities and request parameters.
// Constructed once at startup, immutable afterwards.
type ModelRegistry struct {
	models map[string]ModelCapabilities
}

// NewModelRegistry builds the registry from the static capability table,
// merged with any overrides.
func NewModelRegistry(overrides map[string]ModelCapabilities) *ModelRegistry {
	models := map[string]ModelCapabilities{
		"claude-sonnet-4-5": {
			ContextWindow: 200000, MaxOutputTokens: 64000,
			SupportsTools: true, SupportsImages: true, SupportsThinking: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 16384,
		},
		"claude-haiku-4-5": {
			ContextWindow: 200000, MaxOutputTokens: 64000,
			SupportsTools: true, SupportsImages: true, SupportsThinking: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 8192,
		},
		"claude-opus-4-1": {
			ContextWindow: 200000, MaxOutputTokens: 32000,
			SupportsTools: true, SupportsImages: true, SupportsThinking: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 16384,
		},
		"gpt-4o": {
			ContextWindow: 128000, MaxOutputTokens: 16384,
			SupportsTools: true, SupportsImages: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 8192,
		},
		"gpt-4o-mini": {
			ContextWindow: 128000, MaxOutputTokens: 16384,
			SupportsTools: true, SupportsImages: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 8192,
		},
		"o3-mini": {
			ContextWindow: 200000, MaxOutputTokens: 100000,
			SupportsTools: true, SupportsThinking: true,
			DefaultTemperature: 1.0, DefaultMaxTokens: 16384,
		},
		"gemini-2.5-pro": {
			ContextWindow: 1048576, MaxOutputTokens: 65536,
			SupportsTools: true, SupportsImages: true, SupportsThinking: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 16384,
		},
		"gemini-2.5-flash": {
			ContextWindow: 1048576, MaxOutputTokens: 65536,
			SupportsTools: true, SupportsImages: true, SupportsThinking: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 8192,
		},
		"llama-3.3-70b-versatile": {
			ContextWindow: 131072, MaxOutputTokens: 32768,
			SupportsTools: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 8192,
		},
		"llama3.1": {
			ContextWindow: 131072, MaxOutputTokens: 8192,
			SupportsTools: true,
			DefaultTemperature: 0.7, DefaultMaxTokens: 4096,
		},
	}
	for name, caps := range overrides {
		models[name] = caps
	}
	return &ModelRegistry{models: models}
}

// Capabilities returns the capabilities for model, falling back to the
// conservative defaults for unknown models.
func (r *ModelRegistry) Capabilities(model string) ModelCapabilities {
	if caps, ok := r.models[model]; ok {
		return caps
	}
	return defaultCapabilities
}

// Known reports whether model has a capability entry.
func (r *ModelRegistry) Known(model string) bool {
	_, ok := r.models[model]
	return ok
}

// interactionDefaults are the per-interaction-type parameter profiles.
type interactionDefaults struct {
	temperature float64
	maxTokens   int
	thinking    bool
}

var typeDefaults = map[InteractionType]interactionDefaults{
	InteractionChat:         {temperature: 0.7, maxTokens: 4096, thinking: false},
	InteractionConversation: {temperature: 0.2, maxTokens: 16384, thinking: true},
	InteractionBase:         {temperature: 0.5, maxTokens: 8192, thinking: false},
}

// RequestParams are the explicit per-call parameter overrides. Nil means
// "not specified", falling through the resolution chain.
type RequestParams struct {
	MaxTokens        *int
	Temperature      *float64
	ExtendedThinking *bool
	ThinkingBudget   int
}

// ResolveModelConfig resolves (maxTokens, temperature, extendedThinking) by
// ordered priority: explicit value, user preference, interaction-type
// default, model capability default. An effectively-on thinking setting
// coerces temperature to 1.
func (r *ModelRegistry) ResolveModelConfig(
	model string,
	explicit RequestParams,
	prefs config.RequestPrefs,
	interactionType InteractionType,
) types.ModelConfig {
	caps := r.Capabilities(model)
	defaults, ok := typeDefaults[interactionType]
	if !ok {
		defaults = typeDefaults[InteractionBase]
	}

	maxTokens := caps.DefaultMaxTokens
	switch {
	case explicit.MaxTokens != nil:
		maxTokens = *explicit.MaxTokens
	case prefs.MaxTokens != nil:
		maxTokens = *prefs.MaxTokens
	default:
		maxTokens = defaults.maxTokens
	}
	if caps.MaxOutputTokens > 0 && maxTokens > caps.MaxOutputTokens {
		maxTokens = caps.MaxOutputTokens
	}

	temperature := caps.DefaultTemperature
	switch {
	case explicit.Temperature != nil:
		temperature = *explicit.Temperature
	case prefs.Temperature != nil:
		temperature = *prefs.Temperature
	default:
		temperature = defaults.temperature
	}

	thinking := defaults.thinking
	switch {
	case explicit.ExtendedThinking != nil:
		thinking = *explicit.ExtendedThinking
	case prefs.ExtendedThinking != nil:
		thinking = *prefs.ExtendedThinking
	}
	if thinking && !caps.SupportsThinking {
		thinking = false
	}
	if thinking {
		temperature = 1
	}

	budget := explicit.ThinkingBudget
	if thinking && budget <= 0 {
		budget = maxTokens / 2
	}

	return types.ModelConfig{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		ExtendedThinking: types.ExtendedThinking{
			Enabled:      thinking,
			BudgetTokens: budget,
		},
	}
}
