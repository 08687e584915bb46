package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/beyondbetter/bb-core/internal/cache"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/ratelimit"
	"github.com/beyondbetter/bb-core/internal/retry"
	"github.com/beyondbetter/bb-core/internal/tools"
	"github.com/beyondbetter/bb-core/pkg/types"
)

const (
	// maxSpeakRetries bounds the outer validation loop.
	maxSpeakRetries = 3

	// maxTransportAttempts bounds the inner provider-call loop.
	maxTransportAttempts = 3

	initialBackoff    = time.Second
	perAttemptTimeout = 120 * time.Second

	defaultMaxTokens   = 16384
	defaultTemperature = 0.2
)

// ValidatorFatal is the reason a caller validator returns to abort retries
// immediately.
const ValidatorFatal = "fatal"

// Validator inspects a normalized response and returns a rejection reason,
// "" to accept, or ValidatorFatal to abort the speak loop.
type Validator func(ctx context.Context, resp *types.SpeakResponse) string

// SpeakOptions adjust one speak call.
type SpeakOptions struct {
	// Validator is the caller-provided response check, run after the
	// built-in tool validation.
	Validator Validator

	// DisableCache bypasses the response cache for this call.
	DisableCache bool
}

// TransportOptions configure a Transport.
type TransportOptions struct {
	Store      cache.Store
	CacheTTL   time.Duration
	CacheOn    bool
	RateLimits *ratelimit.Manager
	Tools      *tools.Registry
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Transport drives provider round-trips: request assembly, response cache,
// status-aware retry, normalization, and tool validation.
type Transport struct {
	store      cache.Store
	cacheTTL   time.Duration
	cacheOn    bool
	rateLimits *ratelimit.Manager
	tools      *tools.Registry
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// NewTransport builds a transport. Absent options get working defaults; a
// nil store disables caching.
func NewTransport(opts TransportOptions) *Transport {
	if opts.Logger == nil {
		opts.Logger = observability.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NoopTracer()
	}
	if opts.RateLimits == nil {
		opts.RateLimits = ratelimit.NewManager()
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}
	if opts.Store == nil {
		opts.CacheOn = false
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	return &Transport{
		store:      opts.Store,
		cacheTTL:   opts.CacheTTL,
		cacheOn:    opts.CacheOn,
		rateLimits: opts.RateLimits,
		tools:      opts.Tools,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
}

// Tools exposes the registry consulted during validation.
func (t *Transport) Tools() *tools.Registry { return t.tools }

// RateLimits exposes the per-provider rate-limit bookkeeping.
func (t *Transport) RateLimits() *ratelimit.Manager { return t.rateLimits }

// prepareMessageRequest assembles the normalized request through the
// interaction's callbacks and resolved model config. Hard defaults backstop
// missing limits.
func (t *Transport) prepareMessageRequest(ctx context.Context, in *Interaction) (*types.MessageRequest, error) {
	system, err := in.callbacks.PrepareSystemPrompt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("llm: prepare system prompt: %w", err)
	}
	messages, err := in.callbacks.PrepareMessages(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("llm: prepare messages: %w", err)
	}
	toolDefs, err := in.callbacks.PrepareTools(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("llm: prepare tools: %w", err)
	}

	cfg := in.ModelConfig()
	req := &types.MessageRequest{
		Messages:         messages,
		System:           system,
		Tools:            toolDefs,
		Model:            cfg.Model,
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		ExtendedThinking: cfg.ExtendedThinking,
		UsePromptCaching: t.cacheOn,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.Temperature == 0 && in.params.Temperature == nil && in.prefs.Temperature == nil &&
		!req.ExtendedThinking.Enabled {
		req.Temperature = defaultTemperature
	}
	return req, nil
}

// Speak runs the full speak loop: assemble the request, call the provider
// through cache and retry, validate tool uses, and steer a retry on
// validation failure. At most maxSpeakRetries responses are produced.
func (t *Transport) Speak(ctx context.Context, in *Interaction, opts SpeakOptions) (*types.SpeakResponse, error) {
	ctx = observability.AddInteractionID(ctx, in.ID())
	req, err := t.prepareMessageRequest(ctx, in)
	if err != nil {
		return nil, err
	}

	var lastReason string
	for attempt := 1; attempt <= maxSpeakRetries; attempt++ {
		resp, err := t.speakWithPlus(ctx, in, req, opts)
		if err != nil {
			return nil, err
		}

		reason := t.validateResponse(ctx, in, resp, opts.Validator)
		if reason == "" {
			return resp, nil
		}
		if reason == ValidatorFatal {
			return nil, &Error{
				Kind:          KindProvider,
				Provider:      in.Provider().Name(),
				Model:         in.Model(),
				InteractionID: in.ID(),
				Message:       "validator aborted speak loop",
			}
		}

		lastReason = reason
		t.logger.Warn(ctx, "response validation failed",
			"attempt", attempt, "reason", reason, "provider", in.Provider().Name())
		t.metrics.SpeakRetries.WithLabelValues(in.Provider().Name(), reasonLabel(reason)).Inc()

		if attempt == maxSpeakRetries {
			break
		}
		t.modifyOptionsOnValidationFailure(ctx, in, req, resp, reason)

		// Message appends from the modification hook change the request body.
		messages, err := in.callbacks.PrepareMessages(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("llm: prepare messages: %w", err)
		}
		req.Messages = messages
	}

	return nil, &Error{
		Kind:          kindForReason(lastReason),
		Provider:      in.Provider().Name(),
		Model:         in.Model(),
		InteractionID: in.ID(),
		Message:       fmt.Sprintf("response failed validation after %d attempts: %s", maxSpeakRetries, lastReason),
	}
}

// speakWithPlus performs one cache-or-provider round-trip, appends the
// assistant message, and updates accounting.
func (t *Transport) speakWithPlus(ctx context.Context, in *Interaction, req *types.MessageRequest, opts SpeakOptions) (*types.SpeakResponse, error) {
	provider := in.Provider()
	ctx, span := t.tracer.Start(ctx, "llm.speak",
		attribute.String("provider", provider.Name()),
		attribute.String("model", req.Model),
		attribute.String("interaction_id", in.ID()),
	)
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	useCache := t.cacheOn && !opts.DisableCache
	var key string
	if useCache {
		var err error
		key, err = cache.RequestKey(provider.Name(), req)
		if err != nil {
			t.logger.Warn(ctx, "cache key derivation failed", "error", err)
			useCache = false
		}
	}

	if useCache {
		if resp, ok := t.cacheLookup(ctx, key); ok {
			t.metrics.CacheEvents.WithLabelValues("hit").Inc()
			t.finishResponse(ctx, in, resp, req)
			return resp, nil
		}
		t.metrics.CacheEvents.WithLabelValues("miss").Inc()
	}

	resp, err := t.callWithRetry(ctx, in, provider, req)
	if err != nil {
		spanErr = err
		return nil, err
	}

	t.normalizeResponse(ctx, &resp.MessageResponse)
	t.finishResponse(ctx, in, resp, req)

	if useCache && ctx.Err() == nil {
		t.cacheWrite(ctx, key, resp)
	}
	return resp, nil
}

// callWithRetry is the inner status-code-aware retry loop around the adapter.
func (t *Transport) callWithRetry(ctx context.Context, in *Interaction, provider Provider, req *types.MessageRequest) (*types.SpeakResponse, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxTransportAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in.countProviderRequest()

		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		start := time.Now()
		resp, err := provider.SpeakWith(attemptCtx, req, in)
		cancel()
		t.metrics.ProviderRequestDuration.WithLabelValues(provider.Name(), req.Model).
			Observe(time.Since(start).Seconds())

		if err == nil {
			t.metrics.ProviderRequestCounter.WithLabelValues(provider.Name(), req.Model, "ok").Inc()
			t.rateLimits.Update(provider.Name(), resp.MessageResponse.RateLimit)
			usage := resp.MessageResponse.Usage
			t.metrics.ObserveUsage(provider.Name(), req.Model,
				usage.InputTokens, usage.OutputTokens,
				usage.CacheReadInputTokens, usage.CacheCreationInputTokens, usage.ThoughtTokens)
			return resp, nil
		}

		llmErr := WrapError(err, provider.Name(), in.Model(), in.ID())
		lastErr = llmErr
		t.metrics.ProviderRequestCounter.WithLabelValues(provider.Name(), req.Model, string(llmErr.Kind)).Inc()

		if !Retryable(llmErr) {
			return nil, llmErr
		}
		if attempt == maxTransportAttempts {
			break
		}

		sleep := backoff
		if llmErr.Kind == KindRateLimit {
			if resetAt, ok := retry.RetryAfter(err); ok {
				if until := time.Until(resetAt); until > sleep {
					sleep = until
				}
			} else if limit, ok := t.rateLimits.Get(provider.Name()); ok {
				if until := time.Until(limit.RequestsResetDate); until > sleep {
					sleep = until
				}
			}
		}
		t.logger.Warn(ctx, "provider call failed, retrying",
			"provider", provider.Name(), "attempt", attempt,
			"kind", string(llmErr.Kind), "sleep", sleep.String())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// cacheLookup fetches and decodes a cached envelope, marking it as a hit.
func (t *Transport) cacheLookup(ctx context.Context, key string) (*types.SpeakResponse, bool) {
	stored, ok, err := t.store.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			t.logger.Warn(ctx, "cache read failed", "error", err)
		}
		return nil, false
	}
	payload, err := cache.DecodeValue(stored)
	if err != nil {
		t.logger.Warn(ctx, "cache decode failed", "error", err)
		return nil, false
	}
	var resp types.SpeakResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.logger.Warn(ctx, "cached envelope unmarshal failed", "error", err)
		return nil, false
	}
	resp.MessageResponse.FromCache = true
	return &resp, true
}

// cacheWrite stores the envelope, compressing above the threshold. Oversize
// envelopes are skipped with a warning; the response still flows to the
// caller.
func (t *Transport) cacheWrite(ctx context.Context, key string, resp *types.SpeakResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		t.logger.Warn(ctx, "cache envelope marshal failed", "error", err)
		return
	}
	encoded, err := cache.EncodeValue(payload)
	if err != nil {
		if errors.Is(err, cache.ErrOversize) {
			t.logger.Warn(ctx, "response too large to cache, skipping",
				"size", len(payload))
			t.metrics.CacheEvents.WithLabelValues("skip").Inc()
			return
		}
		t.logger.Warn(ctx, "cache envelope encode failed", "error", err)
		return
	}
	if err := t.store.Set(ctx, key, encoded, t.cacheTTL); err != nil {
		t.logger.Warn(ctx, "cache write failed", "error", err)
		return
	}
	t.metrics.CacheEvents.WithLabelValues("store").Inc()
}

// finishResponse appends the assistant message and its accounting inside the
// interaction's critical section.
func (t *Transport) finishResponse(ctx context.Context, in *Interaction, resp *types.SpeakResponse, req *types.MessageRequest) {
	resp.MessageMeta = types.MessageMeta{
		System: req.System,
		LLMRequestParams: types.LLMRequestParams{
			ModelConfig: types.ModelConfig{
				Model:            req.Model,
				MaxTokens:        req.MaxTokens,
				Temperature:      req.Temperature,
				ExtendedThinking: req.ExtendedThinking,
				UsePromptCaching: req.UsePromptCaching,
			},
		},
	}
	in.AddAssistantContent(ctx, resp.MessageResponse.AnswerContent, &resp.MessageResponse)
}

// normalizeResponse extracts tool uses with accumulated tool thinking and
// synthesizes the flattened answer. Missing content gets a placeholder.
func (t *Transport) normalizeResponse(ctx context.Context, resp *types.ProviderResponse) {
	if len(resp.AnswerContent) == 0 {
		t.logger.Error(ctx, "provider response had no content", "response_id", resp.ID)
		resp.AnswerContent = types.ContentParts{
			types.TextPart{Text: "Error: No valid text content found"},
		}
	}

	hasToolUse := false
	for _, part := range resp.AnswerContent {
		if _, ok := part.(types.ToolUsePart); ok {
			hasToolUse = true
			break
		}
	}
	resp.IsTool = hasToolUse

	if !hasToolUse {
		resp.Answer = t.flattenAnswer(resp.AnswerContent)
		return
	}

	var toolsUsed []types.ToolUse
	var pending strings.Builder
	for _, part := range resp.AnswerContent {
		switch p := part.(type) {
		case types.TextPart:
			if pending.Len() > 0 {
				pending.WriteString("\n")
			}
			pending.WriteString(p.Text)
		case types.ToolUsePart:
			toolsUsed = append(toolsUsed, types.ToolUse{
				ToolUseID:    p.ID,
				ToolName:     p.Name,
				ToolInput:    p.Input,
				ToolThinking: pending.String(),
			})
			pending.Reset()
		}
	}
	// Trailing text after the last tool call belongs to that call.
	if pending.Len() > 0 && len(toolsUsed) > 0 {
		last := &toolsUsed[len(toolsUsed)-1]
		if last.ToolThinking != "" {
			last.ToolThinking += "\n"
		}
		last.ToolThinking += pending.String()
	}

	resp.ToolsUsed = toolsUsed
	var answer strings.Builder
	for _, tu := range toolsUsed {
		if tu.ToolThinking == "" {
			continue
		}
		if answer.Len() > 0 {
			answer.WriteString("\n")
		}
		answer.WriteString(tu.ToolThinking)
	}
	resp.Answer = answer.String()
}

// flattenAnswer concatenates text parts, falling back to a best-effort
// rendering of a tool input when the response carries no text.
func (t *Transport) flattenAnswer(parts types.ContentParts) string {
	var b strings.Builder
	for _, part := range parts {
		if text, ok := part.(types.TextPart); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text.Text)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	for _, part := range parts {
		if tu, ok := part.(types.ToolUsePart); ok {
			if encoded, err := json.Marshal(tu.Input); err == nil {
				return string(encoded)
			}
		}
	}
	return ""
}

// validateResponse runs the built-in tool checks and the caller validator.
// Returns "" to accept, a reason to retry, or ValidatorFatal.
func (t *Transport) validateResponse(ctx context.Context, in *Interaction, resp *types.SpeakResponse, validator Validator) string {
	msg := &resp.MessageResponse
	reason := ""

	for i := range msg.ToolsUsed {
		tu := &msg.ToolsUsed[i]

		if _, ok := t.tools.Get(tu.ToolName); !ok {
			tu.ToolValidation = types.ToolValidation{
				Validated: true,
				Results:   fmt.Sprintf("Tool not found: %s", tu.ToolName),
			}
			if reason == "" {
				reason = tu.ToolValidation.Results
			}
			continue
		}

		if msg.MessageStop.StopReason == types.StopReasonMaxTokens {
			tu.ToolValidation = types.ToolValidation{
				Validated: true,
				Results:   "Tool exceeded max tokens",
			}
			if reason == "" {
				reason = tu.ToolValidation.Results
			}
			continue
		}

		results, err := t.tools.ValidateInput(tu.ToolName, tu.ToolInput)
		if err != nil {
			results = fmt.Sprintf("Tool input validation failed: %v", err)
		}
		tu.ToolValidation = types.ToolValidation{Validated: true, Results: results}
		if results != "" && reason == "" {
			reason = results
		}
	}

	if reason == "" && !msg.IsTool && strings.TrimSpace(msg.Answer) == "" {
		reason = "Empty answer"
	}

	if reason == "" {
		if checker, ok := in.Provider().(StopReasonChecker); ok {
			reason = checker.CheckStopReason(resp)
		}
	}

	if reason == "" && validator != nil {
		reason = validator(ctx, resp)
	}
	return reason
}

// modifyOptionsOnValidationFailure steers the next attempt. Providers may
// override via the OptionModifier hook; the defaults implement the standard
// behaviors.
func (t *Transport) modifyOptionsOnValidationFailure(ctx context.Context, in *Interaction, req *types.MessageRequest, resp *types.SpeakResponse, reason string) {
	if modifier, ok := in.Provider().(OptionModifier); ok {
		modifier.ModifyOptionsOnValidationFailure(ctx, in, req, reason)
		return
	}

	switch {
	case strings.HasPrefix(reason, "Tool input validation failed") ||
		strings.HasPrefix(reason, "Tool not found"):
		// Feed the failure back as an errored tool result so the model can
		// correct its next call.
		for _, tu := range resp.MessageResponse.ToolsUsed {
			if tu.ToolValidation.Results == "" {
				continue
			}
			in.AddToolResult(tu.ToolUseID, types.ContentParts{
				types.TextPart{Text: tu.ToolValidation.Results},
			}, true)
			in.RecordToolUse(tu.ToolName, false)
		}

	case reason == "Tool exceeded max tokens":
		in.AddUserContent(types.TextPart{
			Text: "The previous response was cut off by the token limit. Please provide a smaller answer.",
		})

	case reason == "Empty answer":
		req.Temperature += 0.1
		if req.Temperature > 1 {
			req.Temperature = 1
		}
	}
}

func kindForReason(reason string) ErrorKind {
	switch {
	case strings.HasPrefix(reason, "Tool not found"):
		return KindToolMissing
	case strings.HasPrefix(reason, "Tool input validation failed"):
		return KindToolSchema
	case reason == "Tool exceeded max tokens":
		return KindToolTooLarge
	case reason == "Empty answer":
		return KindEmptyAnswer
	default:
		return KindProvider
	}
}

func reasonLabel(reason string) string {
	return string(kindForReason(reason))
}
