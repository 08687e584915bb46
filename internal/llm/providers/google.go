package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// GoogleConfig configures the Google generative adapter.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	Logger       *observability.Logger
}

// GoogleProvider speaks the Gemini API through the genai SDK.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
	logger       *observability.Logger
}

// NewGoogleProvider creates the adapter. The API key is required.
func NewGoogleProvider(ctx context.Context, config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		defaultModel: config.DefaultModel,
		logger:       config.Logger,
	}, nil
}

// Name returns the provider identifier.
func (p *GoogleProvider) Name() string { return "google" }

// googleRequest is the vendor shape produced by AsProviderMessageRequest.
type googleRequest struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// AsProviderMessageRequest translates the normalized request into Gemini
// contents and generation config.
func (p *GoogleProvider) AsProviderMessageRequest(req *types.MessageRequest) (any, error) {
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("google: failed to convert messages: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	config.Temperature = genai.Ptr(float32(req.Temperature))
	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}
	if req.ExtendedThinking.Enabled {
		budget := min(req.ExtendedThinking.BudgetTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(budget)),
		}
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	return googleRequest{Model: model, Contents: contents, Config: config}, nil
}

// SpeakWith performs one GenerateContent round-trip.
func (p *GoogleProvider) SpeakWith(ctx context.Context, req *types.MessageRequest, in *llm.Interaction) (*types.SpeakResponse, error) {
	raw, err := p.AsProviderMessageRequest(req)
	if err != nil {
		return nil, llm.NewError(llm.KindBadRequest, err.Error())
	}
	vendorReq := raw.(googleRequest)

	resp, err := p.client.Models.GenerateContent(ctx, vendorReq.Model, vendorReq.Contents, vendorReq.Config)
	if err != nil {
		return nil, p.translateError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, llm.NewError(llm.KindProtocol, "google: response has no candidates")
	}
	candidate := resp.Candidates[0]

	var content types.ContentParts
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			content = append(content, types.ToolUsePart{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
		case part.Thought && part.Text != "":
			content = append(content, types.ThinkingPart{Text: part.Text})
		case part.Text != "":
			content = append(content, types.TextPart{Text: part.Text})
		}
	}

	usage := types.TokenUsage{}
	if meta := resp.UsageMetadata; meta != nil {
		usage.InputTokens = int(meta.PromptTokenCount)
		usage.OutputTokens = int(meta.CandidatesTokenCount)
		usage.CacheReadInputTokens = int(meta.CachedContentTokenCount)
		usage.ThoughtTokens = int(meta.ThoughtsTokenCount)
	}
	usage.Normalize()

	return &types.SpeakResponse{
		MessageResponse: types.ProviderResponse{
			ID:            resp.ResponseID,
			Type:          "message",
			Role:          types.RoleAssistant,
			Model:         vendorReq.Model,
			Timestamp:     time.Now().UTC(),
			AnswerContent: content,
			MessageStop: types.MessageStop{
				StopReason: p.normalizeStopReason(ctx, string(candidate.FinishReason)),
			},
			Usage:        usage,
			ProviderMeta: types.ProviderMeta{StatusCode: 200, StatusText: "OK"},
		},
	}, nil
}

func (p *GoogleProvider) convertMessages(messages []*types.Message) ([]*genai.Content, error) {
	toolNames := toolNamesByID(messages)
	var result []*genai.Content

	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == types.RoleAssistant {
			content.Role = genai.RoleModel
		}

		for _, part := range msg.Content {
			switch v := part.(type) {
			case types.TextPart:
				content.Parts = append(content.Parts, &genai.Part{Text: v.Text})
			case types.ImagePart:
				data, err := base64.StdEncoding.DecodeString(v.Data)
				if err != nil {
					return nil, fmt.Errorf("image decode: %w", err)
				}
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: v.MediaType, Data: data},
				})
			case types.ToolUsePart:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: v.Name, Args: v.Input},
				})
			case types.ToolResultPart:
				response := map[string]any{
					"result": flattenResultText(v.Content),
				}
				if v.IsError {
					response["error"] = true
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     toolNames[v.ToolUseID],
						Response: response,
					},
				})
			}
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

// toolNamesByID indexes tool names by tool_use id so function responses can
// carry the name Gemini requires.
func toolNamesByID(messages []*types.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		for _, part := range msg.Content {
			if tu, ok := part.(types.ToolUsePart); ok {
				names[tu.ID] = tu.Name
			}
		}
	}
	return names
}

func (p *GoogleProvider) convertTools(defs []types.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		schemaMap, err := decodeSchemaMap(def.InputSchema)
		if err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON-schema map into Gemini's restricted schema
// type: type names are uppercased into the enum and unsupported keys such as
// "default" are dropped.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func (p *GoogleProvider) normalizeStopReason(ctx context.Context, reason string) types.StopReason {
	switch reason {
	case "STOP":
		return types.StopReasonEndTurn
	case "MAX_TOKENS":
		return types.StopReasonMaxTokens
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return types.StopReasonContentFilter
	case "":
		return types.StopReasonNone
	default:
		p.logger.Warn(ctx, "unknown stop reason passed through", "provider", "google", "reason", reason)
		return types.StopReason(reason)
	}
}

func (p *GoogleProvider) translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		llmErr := llm.StatusError(apiErr.Code, apiErr.Message)
		llmErr.Provider = p.Name()
		llmErr.Cause = err
		return llmErr
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		llmErr := llm.StatusError(429, err.Error())
		llmErr.Provider = p.Name()
		llmErr.Cause = err
		return llmErr
	case strings.Contains(msg, "500") || strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"):
		llmErr := llm.StatusError(503, err.Error())
		llmErr.Provider = p.Name()
		llmErr.Cause = err
		return llmErr
	}
	return err
}
