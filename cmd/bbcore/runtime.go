package main

import (
	"context"
	"fmt"

	"github.com/beyondbetter/bb-core/internal/config"
	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/llm/providers"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/persist"
	"github.com/beyondbetter/bb-core/internal/session"
)

// runtime holds the assembled core for the lifetime of a serve run.
type runtime struct {
	cfg       *config.Config
	logger    *observability.Logger
	sessions  *session.Registry
	providers *providers.Factory
	transport *llm.Transport
	sink      persist.Sink
}

// preflight instantiates every adapter the routing config can reach, so
// misconfigured providers fail at startup instead of on the first speak.
func (r *runtime) preflight(ctx context.Context) error {
	if r.cfg.LLM.Mode == config.ModeProxy {
		if _, err := r.providers.ForModel(ctx, r.cfg, r.cfg.LLM.DefaultModel); err != nil {
			return fmt.Errorf("preflight proxy provider: %w", err)
		}
		return nil
	}
	for model := range r.cfg.LLM.ModelProviders {
		provider, err := r.providers.ForModel(ctx, r.cfg, model)
		if err != nil {
			return fmt.Errorf("preflight provider for model %s: %w", model, err)
		}
		r.logger.Debug(ctx, "provider ready", "model", model, "provider", provider.Name())
	}
	return nil
}

// NewInteraction builds an interaction bound to this runtime's routing,
// sink, and model registry.
func (r *runtime) NewInteraction(ctx context.Context, model string, kind llm.InteractionType, callbacks llm.InteractionCallbacks) (*llm.Interaction, error) {
	if model == "" {
		model = r.cfg.LLM.DefaultModel
	}
	provider, err := r.providers.ForModel(ctx, r.cfg, model)
	if err != nil {
		return nil, err
	}
	return llm.NewInteraction(llm.InteractionOptions{
		Model:     model,
		Type:      kind,
		Provider:  provider,
		Callbacks: callbacks,
		Prefs:     r.cfg.LLM.UserPrefs,
		Models:    llm.NewModelRegistry(nil),
		Logger:    r.logger,
		Sink:      r.sink,
	})
}
