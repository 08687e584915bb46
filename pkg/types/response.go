package types

import (
	"encoding/json"
	"time"
)

// StopReason is the normalized finish reason across vendors. Unknown vendor
// reasons are logged by adapters and passed through as-is.
type StopReason string

const (
	StopReasonEndTurn       StopReason = "end_turn"
	StopReasonStopSequence  StopReason = "stop_sequence"
	StopReasonMaxTokens     StopReason = "max_tokens"
	StopReasonToolUse       StopReason = "tool_use"
	StopReasonContentFilter StopReason = "content_filter"
	StopReasonRefusal       StopReason = "refusal"
	StopReasonToolCalls     StopReason = "tool_calls"
	StopReasonNone          StopReason = ""
)

// MessageStop carries why the model stopped generating.
type MessageStop struct {
	StopReason   StopReason `json:"stop_reason"`
	StopSequence string     `json:"stop_sequence,omitempty"`
}

// RateLimit mirrors the vendor rate-limit headers accompanying a response.
// The Known flags distinguish "vendor reported zeros" from "vendor reported
// nothing": RequestsKnown and TokensKnown cover their field groups, Known is
// their union. Admission decisions must never read an un-Known field group.
type RateLimit struct {
	RequestsRemaining int       `json:"requests_remaining"`
	RequestsLimit     int       `json:"requests_limit"`
	RequestsResetDate time.Time `json:"requests_reset_date"`
	RequestsKnown     bool      `json:"requests_known"`
	TokensRemaining   int       `json:"tokens_remaining"`
	TokensLimit       int       `json:"tokens_limit"`
	TokensResetDate   time.Time `json:"tokens_reset_date"`
	TokensKnown       bool      `json:"tokens_known"`
	Known             bool      `json:"known"`
}

// ToolValidation records the outcome of schema-validating one tool use.
// Validated transitions false to true exactly once, before the tool result
// is appended; Results is empty iff the input passed.
type ToolValidation struct {
	Validated bool   `json:"validated"`
	Results   string `json:"results"`
}

// ToolUse is one extracted tool call from a tool-bearing response.
type ToolUse struct {
	ToolUseID      string         `json:"tool_use_id"`
	ToolName       string         `json:"tool_name"`
	ToolInput      map[string]any `json:"tool_input"`
	ToolThinking   string         `json:"tool_thinking,omitempty"`
	ToolValidation ToolValidation `json:"tool_validation"`
}

// ProviderMeta captures the transport-level status of the vendor call.
type ProviderMeta struct {
	StatusCode int    `json:"status_code"`
	StatusText string `json:"status_text"`
}

// ProviderResponse is the vendor-neutral response shape every adapter
// produces. Answer is the flattened text; AnswerContent preserves order.
type ProviderResponse struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Role          Role           `json:"role"`
	Model         string         `json:"model"`
	FromCache     bool           `json:"from_cache"`
	Timestamp     time.Time      `json:"timestamp"`
	Answer        string         `json:"answer"`
	AnswerContent ContentParts   `json:"answer_content"`
	IsTool        bool           `json:"is_tool"`
	MessageStop   MessageStop    `json:"message_stop"`
	Usage         TokenUsage     `json:"usage"`
	RateLimit     RateLimit      `json:"rate_limit"`
	ProviderMeta  ProviderMeta   `json:"provider_message_response_meta"`
	ToolsUsed     []ToolUse      `json:"tools_used,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// ExtendedThinking configures the model's extended thinking budget.
type ExtendedThinking struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens int  `json:"budget_tokens,omitempty"`
}

// ModelConfig is the resolved per-call model parameter set.
type ModelConfig struct {
	Model            string           `json:"model"`
	MaxTokens        int              `json:"maxTokens"`
	Temperature      float64          `json:"temperature"`
	ExtendedThinking ExtendedThinking `json:"extendedThinking"`
	UsePromptCaching bool             `json:"usePromptCaching"`
}

// LLMRequestParams wraps the model configuration in the envelope metadata.
type LLMRequestParams struct {
	ModelConfig ModelConfig `json:"modelConfig"`
}

// MessageMeta accompanies a normalized response in the speak envelope.
type MessageMeta struct {
	System           string           `json:"system"`
	LLMRequestParams LLMRequestParams `json:"llmRequestParams"`
}

// SpeakResponse is the envelope returned from one atomic provider
// round-trip. It is also the unit stored in the response cache.
type SpeakResponse struct {
	MessageResponse ProviderResponse `json:"messageResponse"`
	MessageMeta     MessageMeta      `json:"messageMeta"`
}

// ToolDefinition is the provider-facing description of a registered tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// MessageRequest is the normalized request shape assembled by the transport
// and translated by adapters into vendor formats.
type MessageRequest struct {
	Messages         []*Message       `json:"messages"`
	System           string           `json:"system,omitempty"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
	Model            string           `json:"model"`
	MaxTokens        int              `json:"maxTokens"`
	Temperature      float64          `json:"temperature"`
	ExtendedThinking ExtendedThinking `json:"extendedThinking"`
	UsePromptCaching bool             `json:"usePromptCaching"`
}
