package persist

import (
	"context"
	"sync"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// MemorySink keeps records in memory. Used by tests and as the default sink
// when no sqlite path is configured.
type MemorySink struct {
	mu         sync.Mutex
	TokenUsage []*types.TokenUsageRecord
	Prompts    []*SystemPromptRecord
	Snapshots  []*InteractionSnapshot
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

var _ Sink = (*MemorySink)(nil)

func (s *MemorySink) WriteTokenUsage(ctx context.Context, record *types.TokenUsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.TokenUsage = append(s.TokenUsage, record)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) WriteSystemPrompt(ctx context.Context, record *SystemPromptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.Prompts = append(s.Prompts, record)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) WriteInteractionSnapshot(ctx context.Context, snapshot *InteractionSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.Snapshots = append(s.Snapshots, snapshot)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Close() error { return nil }

// TokenUsageCount returns the number of token-usage records written.
func (s *MemorySink) TokenUsageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.TokenUsage)
}
