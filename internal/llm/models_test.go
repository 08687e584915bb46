package llm

import (
	"testing"

	"github.com/beyondbetter/bb-core/internal/config"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestResolveModelConfigPriority(t *testing.T) {
	reg := NewModelRegistry(nil)

	// Nothing specified: the interaction-type profile applies.
	cfg := reg.ResolveModelConfig("claude-sonnet-4-5", RequestParams{}, config.RequestPrefs{}, InteractionChat)
	if cfg.MaxTokens != 4096 || cfg.Temperature != 0.7 {
		t.Fatalf("chat defaults: %+v", cfg)
	}
	if cfg.ExtendedThinking.Enabled {
		t.Fatal("chat should not enable thinking by default")
	}

	// User preferences override the type profile.
	prefs := config.RequestPrefs{Temperature: floatPtr(0.3), MaxTokens: intPtr(2048)}
	cfg = reg.ResolveModelConfig("claude-sonnet-4-5", RequestParams{}, prefs, InteractionChat)
	if cfg.MaxTokens != 2048 || cfg.Temperature != 0.3 {
		t.Fatalf("prefs: %+v", cfg)
	}

	// Explicit per-call parameters override preferences.
	explicit := RequestParams{Temperature: floatPtr(0.9), MaxTokens: intPtr(1024)}
	cfg = reg.ResolveModelConfig("claude-sonnet-4-5", explicit, prefs, InteractionChat)
	if cfg.MaxTokens != 1024 || cfg.Temperature != 0.9 {
		t.Fatalf("explicit: %+v", cfg)
	}
}

func TestResolveModelConfigClampsToCapabilities(t *testing.T) {
	reg := NewModelRegistry(nil)

	cfg := reg.ResolveModelConfig("claude-opus-4-1",
		RequestParams{MaxTokens: intPtr(999999)}, config.RequestPrefs{}, InteractionChat)
	if cfg.MaxTokens != 32000 {
		t.Fatalf("max tokens should clamp to the model ceiling, got %d", cfg.MaxTokens)
	}
}

func TestResolveModelConfigThinking(t *testing.T) {
	reg := NewModelRegistry(nil)

	// Conversation profile enables thinking, which coerces temperature to 1
	// and defaults the budget to half the output limit.
	cfg := reg.ResolveModelConfig("claude-sonnet-4-5", RequestParams{}, config.RequestPrefs{}, InteractionConversation)
	if !cfg.ExtendedThinking.Enabled {
		t.Fatal("conversation should enable thinking")
	}
	if cfg.Temperature != 1 {
		t.Fatalf("thinking should force temperature 1, got %v", cfg.Temperature)
	}
	if cfg.ExtendedThinking.BudgetTokens != cfg.MaxTokens/2 {
		t.Fatalf("budget: %d for maxTokens %d", cfg.ExtendedThinking.BudgetTokens, cfg.MaxTokens)
	}

	// An explicit budget is honored.
	cfg = reg.ResolveModelConfig("claude-sonnet-4-5",
		RequestParams{ThinkingBudget: 3000}, config.RequestPrefs{}, InteractionConversation)
	if cfg.ExtendedThinking.BudgetTokens != 3000 {
		t.Fatalf("explicit budget: %d", cfg.ExtendedThinking.BudgetTokens)
	}

	// Models without thinking support silently disable it.
	cfg = reg.ResolveModelConfig("gpt-4o",
		RequestParams{ExtendedThinking: boolPtr(true)}, config.RequestPrefs{}, InteractionChat)
	if cfg.ExtendedThinking.Enabled {
		t.Fatal("thinking must stay off for unsupported models")
	}
	if cfg.Temperature == 1 {
		t.Fatal("temperature coercion must not apply when thinking is off")
	}

	// Explicit off wins over the conversation profile.
	cfg = reg.ResolveModelConfig("claude-sonnet-4-5",
		RequestParams{ExtendedThinking: boolPtr(false)}, config.RequestPrefs{}, InteractionConversation)
	if cfg.ExtendedThinking.Enabled {
		t.Fatal("explicit off should disable thinking")
	}
}

func TestResolveModelConfigUnknownModel(t *testing.T) {
	reg := NewModelRegistry(nil)

	if reg.Known("mystery-model") {
		t.Fatal("mystery-model should not be known")
	}
	cfg := reg.ResolveModelConfig("mystery-model", RequestParams{}, config.RequestPrefs{}, InteractionBase)
	// The conservative fallback caps output at 4096 even though the base
	// profile asks for more.
	if cfg.MaxTokens != 4096 {
		t.Fatalf("fallback clamp: %d", cfg.MaxTokens)
	}
	if cfg.Temperature != 0.5 {
		t.Fatalf("base temperature: %v", cfg.Temperature)
	}
}

func TestModelRegistryOverrides(t *testing.T) {
	reg := NewModelRegistry(map[string]ModelCapabilities{
		"house-model": {
			ContextWindow: 32768, MaxOutputTokens: 8192,
			SupportsTools:      true,
			DefaultTemperature: 0.4, DefaultMaxTokens: 4096,
		},
	})
	if !reg.Known("house-model") {
		t.Fatal("override model should be known")
	}
	caps := reg.Capabilities("house-model")
	if caps.MaxOutputTokens != 8192 || !caps.SupportsTools {
		t.Fatalf("capabilities: %+v", caps)
	}
}
