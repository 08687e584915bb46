// Package persist provides the append-only persistence sink for token-usage
// records, system-prompt dumps, and interaction snapshots.
//
// Sink writes are best-effort from the caller's perspective: the transport
// and interaction layers log failures and continue.
package persist

import (
	"context"
	"time"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// SystemPromptRecord captures the system prompt used for one request.
type SystemPromptRecord struct {
	InteractionID string    `json:"interaction_id"`
	Model         string    `json:"model"`
	Prompt        string    `json:"prompt"`
	Timestamp     time.Time `json:"timestamp"`
}

// InteractionSnapshot is a point-in-time serialization of an interaction's
// message log and accounting.
type InteractionSnapshot struct {
	InteractionID string                 `json:"interaction_id"`
	ParentID      string                 `json:"parent_id,omitempty"`
	Type          string                 `json:"type"`
	Model         string                 `json:"model"`
	Messages      []*types.Message       `json:"messages"`
	Stats         types.InteractionStats `json:"stats"`
	TokenUsage    types.TokenUsage       `json:"token_usage"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Sink is the append-only persistence interface.
type Sink interface {
	WriteTokenUsage(ctx context.Context, record *types.TokenUsageRecord) error
	WriteSystemPrompt(ctx context.Context, record *SystemPromptRecord) error
	WriteInteractionSnapshot(ctx context.Context, snapshot *InteractionSnapshot) error
	Close() error
}
