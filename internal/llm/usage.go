package llm

import (
	"context"
	"time"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// updateTotalsLocked writes the persistence record for one turn's usage, then
// folds it into the statement and interaction triples. Callers hold in.mu.
//
// Reset rules: the interaction triple is zeroed before the first turn of the
// interaction, the statement triple before the first turn of each statement.
// The persistence write is best-effort; a sink failure is logged and the
// accounting proceeds.
func (in *Interaction) updateTotalsLocked(ctx context.Context, usage types.TokenUsage, model, messageID string, role types.Role, recordType string) {
	usage.Normalize()

	record := &types.TokenUsageRecord{
		InteractionID:      in.id,
		MessageID:          messageID,
		StatementCount:     in.statementCount,
		StatementTurnCount: in.statementTurnCount,
		Timestamp:          time.Now().UTC(),
		Model:              model,
		Role:               role,
		Type:               recordType,
		RawUsage:           usage,
		DifferentialUsage:  in.differentialLocked(usage, role),
		CacheImpact:        types.NewCacheImpact(usage),
	}
	if err := in.sink.WriteTokenUsage(ctx, record); err != nil {
		in.logger.Warn(ctx, "token usage write failed",
			"interaction_id", in.id, "message_id", messageID, "error", err)
	}

	if in.interactionTurnCount == 0 {
		in.usageInteraction.Reset()
	}
	if in.statementTurnCount == 0 {
		in.usageStatement.Reset()
	}

	in.usageTurn = usage
	in.usageStatement.Add(usage)
	in.usageInteraction.Add(usage)

	if role == types.RoleAssistant {
		in.lastAssistantInputTokens = usage.InputTokens
	}
}

// differentialLocked computes the incremental cost of one record: assistant
// turns contribute their output tokens only; user records contribute the
// growth of the input window since the previous assistant turn, floored at
// zero.
func (in *Interaction) differentialLocked(usage types.TokenUsage, role types.Role) types.TokenUsage {
	var diff types.TokenUsage
	switch role {
	case types.RoleAssistant:
		diff.OutputTokens = usage.OutputTokens
	case types.RoleUser:
		delta := usage.InputTokens - in.lastAssistantInputTokens
		if delta < 0 {
			delta = 0
		}
		diff.InputTokens = delta
	}
	diff.Normalize()
	return diff
}

// UpdateTotals records usage for a message appended outside the assistant
// flow, for example a cached response replayed into a fresh interaction.
func (in *Interaction) UpdateTotals(ctx context.Context, usage types.TokenUsage, model, messageID string, role types.Role) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.updateTotalsLocked(ctx, usage, model, messageID, role, "turn")
}
