package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/retry"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// GroqBaseURL is the OpenAI-compatible endpoint for Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIConfig configures the OpenAI adapter and its base-URL derivatives.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	// ProviderName overrides the routing name for derivatives ("groq").
	ProviderName string

	Logger *observability.Logger
}

// OpenAIProvider speaks the Chat Completions API. Derivative vendors reuse it
// with a different base URL and name.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	logger       *observability.Logger
}

// NewOpenAIProvider creates the adapter. The API key is required.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.ProviderName == "" {
		config.ProviderName = "openai"
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         config.ProviderName,
		defaultModel: config.DefaultModel,
		logger:       config.Logger,
	}, nil
}

// NewGroqProvider creates the Groq derivative of the OpenAI adapter.
func NewGroqProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	config.BaseURL = GroqBaseURL
	config.ProviderName = "groq"
	return NewOpenAIProvider(config)
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return p.name }

// AsProviderMessageRequest translates the normalized request into the Chat
// Completions shape.
func (p *OpenAIProvider) AsProviderMessageRequest(req *types.MessageRequest) (any, error) {
	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("openai: failed to convert tools: %w", err)
		}
		chatReq.Tools = tools
	}
	return chatReq, nil
}

// SpeakWith performs one Chat Completions round-trip.
func (p *OpenAIProvider) SpeakWith(ctx context.Context, req *types.MessageRequest, in *llm.Interaction) (*types.SpeakResponse, error) {
	raw, err := p.AsProviderMessageRequest(req)
	if err != nil {
		return nil, llm.NewError(llm.KindBadRequest, err.Error())
	}
	chatReq := raw.(openai.ChatCompletionRequest)

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewError(llm.KindProtocol, "openai: response has no choices")
	}
	choice := resp.Choices[0]

	var content types.ContentParts
	if choice.Message.Content != "" {
		content = append(content, types.TextPart{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		var input map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return nil, llm.NewError(llm.KindProtocol,
					fmt.Sprintf("openai: tool call arguments decode: %v", err))
			}
		}
		content = append(content, types.ToolUsePart{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}

	usage := types.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if details := resp.Usage.PromptTokensDetails; details != nil {
		usage.CacheReadInputTokens = details.CachedTokens
	}
	if details := resp.Usage.CompletionTokensDetails; details != nil {
		usage.ThoughtTokens = details.ReasoningTokens
	}
	usage.Normalize()

	return &types.SpeakResponse{
		MessageResponse: types.ProviderResponse{
			ID:            resp.ID,
			Type:          "message",
			Role:          types.RoleAssistant,
			Model:         resp.Model,
			Timestamp:     time.Now().UTC(),
			AnswerContent: content,
			MessageStop: types.MessageStop{
				StopReason: p.normalizeStopReason(ctx, string(choice.FinishReason)),
			},
			Usage:        usage,
			ProviderMeta: types.ProviderMeta{StatusCode: 200, StatusText: "OK"},
		},
	}, nil
}

func (p *OpenAIProvider) convertMessages(messages []*types.Message, system string) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == types.RoleAssistant {
			assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, part := range msg.Content {
				switch v := part.(type) {
				case types.TextPart:
					assistant.Content += v.Text
				case types.ToolUsePart:
					args, err := json.Marshal(v.Input)
					if err != nil {
						return nil, err
					}
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
						ID:   v.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      v.Name,
							Arguments: string(args),
						},
					})
				}
			}
			result = append(result, assistant)
			continue
		}

		// User messages: tool results become dedicated tool-role messages,
		// remaining parts form one user message.
		var parts []openai.ChatMessagePart
		var toolMessages []openai.ChatCompletionMessage
		for _, part := range msg.Content {
			switch v := part.(type) {
			case types.TextPart:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: v.Text,
				})
			case types.ImagePart:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", v.MediaType, v.Data),
					},
				})
			case types.ToolResultPart:
				toolMessages = append(toolMessages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: v.ToolUseID,
					Content:    flattenResultText(v.Content),
				})
			}
		}
		result = append(result, toolMessages...)
		if len(parts) == 1 && parts[0].Type == openai.ChatMessagePartTypeText {
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: parts[0].Text,
			})
		} else if len(parts) > 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})
		}
	}
	return result, nil
}

func (p *OpenAIProvider) convertTools(defs []types.ToolDefinition) ([]openai.Tool, error) {
	var result []openai.Tool
	for _, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		})
	}
	return result, nil
}

func (p *OpenAIProvider) normalizeStopReason(ctx context.Context, reason string) types.StopReason {
	switch reason {
	case "stop":
		return types.StopReasonEndTurn
	case "length":
		return types.StopReasonMaxTokens
	case "tool_calls", "function_call":
		return types.StopReasonToolCalls
	case "content_filter":
		return types.StopReasonContentFilter
	case "":
		return types.StopReasonNone
	default:
		p.logger.Warn(ctx, "unknown stop reason passed through", "provider", p.name, "reason", reason)
		return types.StopReason(reason)
	}
}

func (p *OpenAIProvider) translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		llmErr := llm.StatusError(apiErr.HTTPStatusCode, apiErr.Message)
		llmErr.Provider = p.name
		llmErr.Cause = err
		if strings.Contains(strings.ToLower(apiErr.Message), "quota") {
			llmErr.Kind = llm.KindQuotaExceeded
			return llmErr
		}
		if apiErr.HTTPStatusCode == 429 {
			// The SDK does not surface Retry-After; fall back to a fixed
			// short reset so the transport's sleep stays bounded.
			return retry.WithRetryAfter(llmErr, time.Now().Add(time.Second))
		}
		return llmErr
	}
	return err
}
