package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// DefaultOllamaBaseURL is the local host most installs listen on.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaConfig configures the local Ollama adapter.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
	Logger       *observability.Logger
}

// OllamaProvider speaks the Ollama /api/chat endpoint directly. No API key is
// involved; the host is assumed to be local or otherwise trusted.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	logger       *observability.Logger
}

// NewOllamaProvider creates the adapter.
func NewOllamaProvider(config OllamaConfig) *OllamaProvider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOllamaBaseURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}
	return &OllamaProvider{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		defaultModel: config.DefaultModel,
		httpClient:   config.HTTPClient,
		logger:       config.Logger,
	}
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// AsProviderMessageRequest translates the normalized request into the
// /api/chat body.
func (p *OllamaProvider) AsProviderMessageRequest(req *types.MessageRequest) (any, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := ollamaChatRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   false,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}
	for _, def := range req.Tools {
		params, err := decodeSchemaMap(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("ollama: invalid tool schema for %s: %w", def.Name, err)
		}
		chatReq.Tools = append(chatReq.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return chatReq, nil
}

// SpeakWith performs one non-streaming chat round-trip.
func (p *OllamaProvider) SpeakWith(ctx context.Context, req *types.MessageRequest, in *llm.Interaction) (*types.SpeakResponse, error) {
	raw, err := p.AsProviderMessageRequest(req)
	if err != nil {
		return nil, llm.NewError(llm.KindBadRequest, err.Error())
	}
	chatReq := raw.(ollamaChatRequest)

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, llm.NewError(llm.KindBadRequest, fmt.Sprintf("ollama: encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		llmErr := llm.NewError(llm.KindServer, fmt.Sprintf("ollama: request failed: %v", err))
		llmErr.Cause = err
		return nil, llmErr
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, llm.NewError(llm.KindProtocol, fmt.Sprintf("ollama: read response: %v", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		llmErr := llm.StatusError(httpResp.StatusCode, strings.TrimSpace(string(respBody)))
		llmErr.Provider = p.Name()
		return nil, llmErr
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, llm.NewError(llm.KindProtocol, fmt.Sprintf("ollama: decode response: %v", err))
	}

	var content types.ContentParts
	if chatResp.Message.Content != "" {
		content = append(content, types.TextPart{Text: chatResp.Message.Content})
	}
	for _, call := range chatResp.Message.ToolCalls {
		// Ollama does not assign call ids; synthesize one so tool_result
		// coalescing has a stable key.
		content = append(content, types.ToolUsePart{
			ID:    "call_" + uuid.NewString(),
			Name:  call.Function.Name,
			Input: call.Function.Arguments,
		})
	}

	usage := types.TokenUsage{
		InputTokens:  chatResp.PromptEvalCount,
		OutputTokens: chatResp.EvalCount,
	}
	usage.Normalize()

	return &types.SpeakResponse{
		MessageResponse: types.ProviderResponse{
			ID:            "ollama_" + uuid.NewString(),
			Type:          "message",
			Role:          types.RoleAssistant,
			Model:         chatResp.Model,
			Timestamp:     time.Now().UTC(),
			AnswerContent: content,
			MessageStop: types.MessageStop{
				StopReason: p.normalizeStopReason(ctx, chatResp.DoneReason),
			},
			Usage:        usage,
			ProviderMeta: types.ProviderMeta{StatusCode: httpResp.StatusCode, StatusText: httpResp.Status},
		},
	}, nil
}

func (p *OllamaProvider) convertMessages(messages []*types.Message, system string) []ollamaMessage {
	var result []ollamaMessage
	if system != "" {
		result = append(result, ollamaMessage{Role: "system", Content: system})
	}

	for _, msg := range messages {
		role := "user"
		if msg.Role == types.RoleAssistant {
			role = "assistant"
		}

		current := ollamaMessage{Role: role}
		var texts []string
		for _, part := range msg.Content {
			switch v := part.(type) {
			case types.TextPart:
				texts = append(texts, v.Text)
			case types.ImagePart:
				current.Images = append(current.Images, v.Data)
			case types.ToolUsePart:
				current.ToolCalls = append(current.ToolCalls, ollamaToolCall{
					Function: ollamaFunctionCall{Name: v.Name, Arguments: v.Input},
				})
			case types.ToolResultPart:
				result = append(result, ollamaMessage{
					Role:    "tool",
					Content: flattenResultText(v.Content),
				})
			}
		}
		current.Content = strings.Join(texts, "\n")
		if current.Content != "" || len(current.Images) > 0 || len(current.ToolCalls) > 0 {
			result = append(result, current)
		}
	}
	return result
}

func (p *OllamaProvider) normalizeStopReason(ctx context.Context, reason string) types.StopReason {
	switch reason {
	case "stop":
		return types.StopReasonEndTurn
	case "length":
		return types.StopReasonMaxTokens
	case "":
		return types.StopReasonNone
	default:
		p.logger.Warn(ctx, "unknown stop reason passed through", "provider", "ollama", "reason", reason)
		return types.StopReason(reason)
	}
}
