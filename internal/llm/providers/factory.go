package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/beyondbetter/bb-core/internal/config"
	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/supabase"
)

// FactoryOptions carry the shared collaborators adapters need beyond their
// own config entry.
type FactoryOptions struct {
	Logger *observability.Logger

	// Tokens supplies bearer tokens for the direct proxy transport.
	Tokens TokenSource

	// Supabase backs the proxy's function-dispatcher transport.
	Supabase *supabase.Client
}

// Factory instantiates adapters from provider config entries, caching one
// instance per entry name.
type Factory struct {
	opts FactoryOptions

	mu    sync.Mutex
	cache map[string]llm.Provider
}

// NewFactory creates a provider factory.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.Logger == nil {
		opts.Logger = observability.NewNoopLogger()
	}
	return &Factory{opts: opts, cache: make(map[string]llm.Provider)}
}

// Get returns the adapter for the named config entry, building it on first
// use.
func (f *Factory) Get(ctx context.Context, name string, entry config.ProviderConfig) (llm.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if provider, ok := f.cache[name]; ok {
		return provider, nil
	}
	provider, err := f.build(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	f.cache[name] = provider
	return provider, nil
}

func (f *Factory) build(ctx context.Context, entry config.ProviderConfig) (llm.Provider, error) {
	switch entry.Kind {
	case config.KindProxy:
		return NewProxyProvider(ProxyConfig{
			BaseURL:      entry.BaseURL,
			Tokens:       f.opts.Tokens,
			Supabase:     f.opts.Supabase,
			DefaultModel: entry.DefaultModel,
			Logger:       f.opts.Logger,
		})
	case config.KindAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
			Logger:       f.opts.Logger,
		})
	case config.KindOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
			Logger:       f.opts.Logger,
		})
	case config.KindGroq:
		return NewGroqProvider(OpenAIConfig{
			APIKey:       entry.APIKey,
			DefaultModel: entry.DefaultModel,
			Logger:       f.opts.Logger,
		})
	case config.KindGoogle:
		return NewGoogleProvider(ctx, GoogleConfig{
			APIKey:       entry.APIKey,
			DefaultModel: entry.DefaultModel,
			Logger:       f.opts.Logger,
		})
	case config.KindOllama:
		return NewOllamaProvider(OllamaConfig{
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
			Logger:       f.opts.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", entry.Kind)
	}
}

// ForModel resolves the adapter serving model according to cfg's routing.
func (f *Factory) ForModel(ctx context.Context, cfg *config.Config, model string) (llm.Provider, error) {
	name, entry, err := cfg.ProviderForModel(model)
	if err != nil {
		return nil, err
	}
	return f.Get(ctx, name, entry)
}
