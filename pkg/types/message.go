// Package types defines the shared data model for the orchestration core:
// messages and their tagged content parts, token usage, provider requests
// and normalized responses, and per-user auth context.
package types

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part type tags. These are the wire values of the "type" discriminator.
const (
	PartTypeText             = "text"
	PartTypeImage            = "image"
	PartTypeThinking         = "thinking"
	PartTypeRedactedThinking = "redacted_thinking"
	PartTypeToolUse          = "tool_use"
	PartTypeToolResult       = "tool_result"
)

// ContentPart is one element of a message's ordered content sequence.
// The set of implementations is closed; adapters translate at the boundary.
type ContentPart interface {
	PartType() string
}

// TextPart is plain assistant or user text.
type TextPart struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations,omitempty"`
}

func (TextPart) PartType() string { return PartTypeText }

// ImagePart carries base64-encoded image bytes.
type ImagePart struct {
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
	Encoding  string `json:"encoding"`
}

func (ImagePart) PartType() string { return PartTypeImage }

// NewImagePart builds an image part with the mandatory base64 encoding tag.
func NewImagePart(data, mediaType string) ImagePart {
	return ImagePart{Data: data, MediaType: mediaType, Encoding: "base64"}
}

// ThinkingPart is extended-thinking text emitted by the model.
type ThinkingPart struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

func (ThinkingPart) PartType() string { return PartTypeThinking }

// RedactedThinkingPart is opaque thinking content the vendor withheld.
type RedactedThinkingPart struct {
	Data string `json:"data"`
}

func (RedactedThinkingPart) PartType() string { return PartTypeRedactedThinking }

// ToolUsePart is an assistant-produced structured call to a registered tool.
type ToolUsePart struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUsePart) PartType() string { return PartTypeToolUse }

// ToolResultPart carries the outcome of a tool run back to the model.
// Content is restricted to text and image parts.
type ToolResultPart struct {
	ToolUseID string       `json:"tool_use_id"`
	Content   ContentParts `json:"content"`
	IsError   bool         `json:"is_error,omitempty"`
}

func (ToolResultPart) PartType() string { return PartTypeToolResult }

// ContentParts is an ordered content sequence with tagged JSON encoding.
type ContentParts []ContentPart

type taggedPart struct {
	Type string `json:"type"`

	// text
	Text      string   `json:"text,omitempty"`
	Citations []string `json:"citations,omitempty"`

	// image
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Encoding  string `json:"encoding,omitempty"`

	// thinking
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON encodes each part with its "type" discriminator.
func (c ContentParts) MarshalJSON() ([]byte, error) {
	out := make([]taggedPart, 0, len(c))
	for _, part := range c {
		tagged, err := tagPart(part)
		if err != nil {
			return nil, err
		}
		out = append(out, tagged)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a tagged part array back into concrete variants.
func (c *ContentParts) UnmarshalJSON(data []byte) error {
	var raw []taggedPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts := make(ContentParts, 0, len(raw))
	for _, entry := range raw {
		part, err := untagPart(entry)
		if err != nil {
			return err
		}
		parts = append(parts, part)
	}
	*c = parts
	return nil
}

func tagPart(part ContentPart) (taggedPart, error) {
	switch p := part.(type) {
	case TextPart:
		return taggedPart{Type: PartTypeText, Text: p.Text, Citations: p.Citations}, nil
	case ImagePart:
		return taggedPart{Type: PartTypeImage, Data: p.Data, MediaType: p.MediaType, Encoding: p.Encoding}, nil
	case ThinkingPart:
		return taggedPart{Type: PartTypeThinking, Text: p.Text, Signature: p.Signature}, nil
	case RedactedThinkingPart:
		return taggedPart{Type: PartTypeRedactedThinking, Data: p.Data}, nil
	case ToolUsePart:
		input := p.Input
		if input == nil {
			input = map[string]any{}
		}
		return taggedPart{Type: PartTypeToolUse, ID: p.ID, Name: p.Name, Input: input}, nil
	case ToolResultPart:
		content, err := json.Marshal(p.Content)
		if err != nil {
			return taggedPart{}, err
		}
		return taggedPart{Type: PartTypeToolResult, ToolUseID: p.ToolUseID, Content: content, IsError: p.IsError}, nil
	default:
		return taggedPart{}, fmt.Errorf("unknown content part type %T", part)
	}
}

func untagPart(entry taggedPart) (ContentPart, error) {
	switch entry.Type {
	case PartTypeText:
		return TextPart{Text: entry.Text, Citations: entry.Citations}, nil
	case PartTypeImage:
		return ImagePart{Data: entry.Data, MediaType: entry.MediaType, Encoding: entry.Encoding}, nil
	case PartTypeThinking:
		return ThinkingPart{Text: entry.Text, Signature: entry.Signature}, nil
	case PartTypeRedactedThinking:
		return RedactedThinkingPart{Data: entry.Data}, nil
	case PartTypeToolUse:
		return ToolUsePart{ID: entry.ID, Name: entry.Name, Input: entry.Input}, nil
	case PartTypeToolResult:
		var content ContentParts
		if len(entry.Content) > 0 {
			if err := json.Unmarshal(entry.Content, &content); err != nil {
				return nil, err
			}
		}
		return ToolResultPart{ToolUseID: entry.ToolUseID, Content: content, IsError: entry.IsError}, nil
	default:
		return nil, fmt.Errorf("unknown content part type %q", entry.Type)
	}
}

// InteractionStats snapshots interaction counters at message creation time.
type InteractionStats struct {
	StatementCount       int `json:"statement_count"`
	StatementTurnCount   int `json:"statement_turn_count"`
	InteractionTurnCount int `json:"interaction_turn_count"`
}

// Message is a single entry in an interaction's ordered message log.
type Message struct {
	ID               string            `json:"id"`
	Role             Role              `json:"role"`
	Content          ContentParts      `json:"content"`
	ProviderResponse *ProviderResponse `json:"provider_response,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	Stats            InteractionStats  `json:"stats"`
}

// NewMessage builds a message with a fresh ULID and the current timestamp.
func NewMessage(role Role, parts ...ContentPart) *Message {
	return &Message{
		ID:        NewMessageID(),
		Role:      role,
		Content:   ContentParts(parts),
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageID returns a lexicographically sortable message identifier.
func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// LastToolResult returns the trailing tool_result part with the given id, if any.
func (m *Message) LastToolResult(toolUseID string) (*ToolResultPart, int) {
	for i := len(m.Content) - 1; i >= 0; i-- {
		if tr, ok := m.Content[i].(ToolResultPart); ok && tr.ToolUseID == toolUseID {
			result := tr
			return &result, i
		}
	}
	return nil, -1
}
