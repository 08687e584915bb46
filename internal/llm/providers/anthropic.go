// Package providers contains the vendor adapters behind the llm.Provider
// contract: the authoritative proxy, Anthropic, OpenAI and its base-URL
// derivatives, Google, and local Ollama-compatible hosts.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/retry"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Logger       *observability.Logger
}

// AnthropicProvider speaks to the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	logger       *observability.Logger
}

// NewAnthropicProvider creates the adapter. The API key is required.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		logger:       config.Logger,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// AsProviderMessageRequest translates the normalized request into the
// Messages API parameter shape.
func (p *AnthropicProvider) AsProviderMessageRequest(req *types.MessageRequest) (any, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.ExtendedThinking.Enabled {
		budget := int64(req.ExtendedThinking.BudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	} else {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params, nil
}

// SpeakWith performs one Messages API round-trip and normalizes the result.
func (p *AnthropicProvider) SpeakWith(ctx context.Context, req *types.MessageRequest, in *llm.Interaction) (*types.SpeakResponse, error) {
	raw, err := p.AsProviderMessageRequest(req)
	if err != nil {
		return nil, llm.NewError(llm.KindBadRequest, err.Error())
	}
	params := raw.(anthropic.MessageNewParams)

	var httpResp *http.Response
	message, err := p.client.Messages.New(ctx, params, option.WithResponseInto(&httpResp))
	if err != nil {
		return nil, p.translateError(err)
	}

	rateLimit := types.RateLimit{}
	if httpResp != nil {
		rateLimit = rateLimitFromHeaders(httpResp.Header)
	}

	content, err := p.convertResponseContent(message.Content)
	if err != nil {
		return nil, llm.NewError(llm.KindProtocol, err.Error())
	}

	usage := types.TokenUsage{
		InputTokens:              int(message.Usage.InputTokens),
		OutputTokens:             int(message.Usage.OutputTokens),
		CacheCreationInputTokens: int(message.Usage.CacheCreationInputTokens),
		CacheReadInputTokens:     int(message.Usage.CacheReadInputTokens),
	}
	usage.Normalize()

	return &types.SpeakResponse{
		MessageResponse: types.ProviderResponse{
			ID:            message.ID,
			Type:          "message",
			Role:          types.RoleAssistant,
			Model:         string(message.Model),
			Timestamp:     time.Now().UTC(),
			AnswerContent: content,
			MessageStop: types.MessageStop{
				StopReason:   normalizeAnthropicStopReason(ctx, p.logger, string(message.StopReason)),
				StopSequence: message.StopSequence,
			},
			Usage:        usage,
			RateLimit:    rateLimit,
			ProviderMeta: types.ProviderMeta{StatusCode: 200, StatusText: "OK"},
		},
	}, nil
}

func (p *AnthropicProvider) convertMessages(messages []*types.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Content {
			switch v := part.(type) {
			case types.TextPart:
				content = append(content, anthropic.NewTextBlock(v.Text))
			case types.ImagePart:
				content = append(content, anthropic.NewImageBlockBase64(v.MediaType, v.Data))
			case types.ToolUsePart:
				content = append(content, anthropic.NewToolUseBlock(v.ID, v.Input, v.Name))
			case types.ToolResultPart:
				content = append(content, anthropic.NewToolResultBlock(v.ToolUseID, flattenResultText(v.Content), v.IsError))
			case types.ThinkingPart:
				// Thinking blocks are not replayed to the vendor.
			case types.RedactedThinkingPart:
			default:
				return nil, fmt.Errorf("unsupported content part %q", part.PartType())
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == types.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(defs []types.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) convertResponseContent(blocks []anthropic.ContentBlockUnion) (types.ContentParts, error) {
	var parts types.ContentParts
	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, types.TextPart{Text: block.Text})
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, fmt.Errorf("tool_use input decode: %w", err)
				}
			}
			parts = append(parts, types.ToolUsePart{ID: block.ID, Name: block.Name, Input: input})
		case "thinking":
			parts = append(parts, types.ThinkingPart{Text: block.Thinking, Signature: block.Signature})
		case "redacted_thinking":
			parts = append(parts, types.RedactedThinkingPart{Data: block.Data})
		default:
			// Unknown block types are dropped, not fatal.
		}
	}
	return parts, nil
}

func (p *AnthropicProvider) translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		llmErr := llm.StatusError(apiErr.StatusCode, apiErr.Error())
		llmErr.Provider = p.Name()
		llmErr.Cause = err
		if apiErr.StatusCode == 429 && apiErr.Response != nil {
			if resetAt, ok := parseRetryAfter(apiErr.Response.Header.Get("retry-after")); ok {
				return retry.WithRetryAfter(llmErr, resetAt)
			}
		}
		return llmErr
	}
	return err
}

// parseRetryAfter interprets a Retry-After header as either delta seconds or
// an HTTP date.
func parseRetryAfter(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Now().Add(time.Duration(seconds) * time.Second), true
	}
	if at, err := http.ParseTime(value); err == nil {
		return at, true
	}
	return time.Time{}, false
}

func normalizeAnthropicStopReason(ctx context.Context, logger *observability.Logger, reason string) types.StopReason {
	switch reason {
	case "end_turn":
		return types.StopReasonEndTurn
	case "stop_sequence":
		return types.StopReasonStopSequence
	case "max_tokens":
		return types.StopReasonMaxTokens
	case "tool_use":
		return types.StopReasonToolUse
	case "refusal":
		return types.StopReasonRefusal
	case "":
		return types.StopReasonNone
	default:
		logger.Warn(ctx, "unknown stop reason passed through", "provider", "anthropic", "reason", reason)
		return types.StopReason(reason)
	}
}

// flattenResultText renders a tool_result content sequence as plain text for
// vendors whose tool-result blocks accept a single string.
func flattenResultText(parts types.ContentParts) string {
	var b strings.Builder
	for _, part := range parts {
		if text, ok := part.(types.TextPart); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text.Text)
		}
	}
	return b.String()
}
