package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/beyondbetter/bb-core/internal/persist"
	"github.com/beyondbetter/bb-core/pkg/types"
)

func basicCallbacks() InteractionCallbacks {
	return InteractionCallbacks{
		PrepareSystemPrompt: func(ctx context.Context, in *Interaction) (string, error) {
			return "You are a test assistant.", nil
		},
		PrepareMessages: func(ctx context.Context, in *Interaction) ([]*types.Message, error) {
			return in.Messages(), nil
		},
		PrepareTools: func(ctx context.Context, in *Interaction) ([]types.ToolDefinition, error) {
			return nil, nil
		},
	}
}

func basicInteraction(t *testing.T, sink persist.Sink) *Interaction {
	t.Helper()
	in, err := NewInteraction(InteractionOptions{
		Model:     "claude-sonnet-4-5",
		Type:      InteractionConversation,
		Provider:  &fakeProvider{},
		Callbacks: basicCallbacks(),
		Models:    NewModelRegistry(nil),
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("NewInteraction: %v", err)
	}
	return in
}

func assistantResponse(input, output int) *types.ProviderResponse {
	return &types.ProviderResponse{
		ID:    "resp",
		Role:  types.RoleAssistant,
		Model: "claude-sonnet-4-5",
		Usage: types.TokenUsage{InputTokens: input, OutputTokens: output},
	}
}

func TestNewInteractionValidation(t *testing.T) {
	base := InteractionOptions{
		Model:     "claude-sonnet-4-5",
		Provider:  &fakeProvider{},
		Callbacks: basicCallbacks(),
		Models:    NewModelRegistry(nil),
	}

	missingModel := base
	missingModel.Model = ""
	if _, err := NewInteraction(missingModel); err == nil {
		t.Fatal("missing model should fail")
	}

	missingProvider := base
	missingProvider.Provider = nil
	if _, err := NewInteraction(missingProvider); err == nil {
		t.Fatal("missing provider should fail")
	}

	missingCallback := base
	missingCallback.Callbacks.PrepareTools = nil
	if _, err := NewInteraction(missingCallback); err == nil {
		t.Fatal("incomplete callback set should fail")
	}

	missingModels := base
	missingModels.Models = nil
	if _, err := NewInteraction(missingModels); err == nil {
		t.Fatal("missing model registry should fail")
	}

	in, err := NewInteraction(base)
	if err != nil {
		t.Fatalf("NewInteraction: %v", err)
	}
	if in.ID() == "" {
		t.Fatal("id should be generated when absent")
	}
	if in.Type() != InteractionConversation {
		t.Fatalf("default type: %q", in.Type())
	}
}

func TestTurnCounters(t *testing.T) {
	in := basicInteraction(t, nil)
	ctx := context.Background()

	in.BeginStatement("first question")
	stats := in.Stats()
	if stats.StatementCount != 1 || stats.StatementTurnCount != 0 {
		t.Fatalf("after BeginStatement: %+v", stats)
	}

	in.AddUserContent(types.TextPart{Text: "hello"})
	msgID := in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "hi"}}, assistantResponse(10, 5))

	// The message snapshot carries the counters as they were when the turn
	// started; the live counters have advanced.
	last := in.LastMessage()
	if last.ID != msgID || last.Stats.StatementTurnCount != 0 {
		t.Fatalf("message stats: %+v", last.Stats)
	}
	stats = in.Stats()
	if stats.StatementTurnCount != 1 || stats.InteractionTurnCount != 1 {
		t.Fatalf("after first turn: %+v", stats)
	}

	in.AddUserContent(types.TextPart{Text: "more"})
	in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "sure"}}, assistantResponse(20, 8))

	in.BeginStatement("second question")
	stats = in.Stats()
	if stats.StatementCount != 2 || stats.StatementTurnCount != 0 {
		t.Fatalf("second statement: %+v", stats)
	}
	// The interaction counter never resets.
	if stats.InteractionTurnCount != 2 {
		t.Fatalf("interaction turns: %d", stats.InteractionTurnCount)
	}
}

func TestUsageAccumulation(t *testing.T) {
	sink := persist.NewMemorySink()
	in := basicInteraction(t, sink)
	ctx := context.Background()

	in.BeginStatement("")
	in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "a"}}, assistantResponse(10, 5))
	in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "b"}}, assistantResponse(12, 6))

	if got := in.TokenUsageTurn(); got.InputTokens != 12 || got.OutputTokens != 6 {
		t.Fatalf("turn usage: %+v", got)
	}
	if got := in.TokenUsageStatement(); got.InputTokens != 22 || got.OutputTokens != 11 {
		t.Fatalf("statement usage: %+v", got)
	}
	if got := in.TokenUsageInteraction(); got.TotalTokens != 33 {
		t.Fatalf("interaction usage: %+v", got)
	}

	// A new statement resets the statement triple; the interaction triple
	// keeps accumulating.
	in.BeginStatement("")
	in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "c"}}, assistantResponse(7, 3))
	if got := in.TokenUsageStatement(); got.InputTokens != 7 || got.OutputTokens != 3 {
		t.Fatalf("statement usage after reset: %+v", got)
	}
	if got := in.TokenUsageInteraction(); got.TotalTokens != 43 {
		t.Fatalf("interaction usage: %+v", got)
	}

	if len(sink.TokenUsage) != 3 {
		t.Fatalf("persisted records: %d", len(sink.TokenUsage))
	}
}

func TestDifferentialUsage(t *testing.T) {
	sink := persist.NewMemorySink()
	in := basicInteraction(t, sink)
	ctx := context.Background()

	in.BeginStatement("")
	msgID := in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "a"}}, assistantResponse(100, 40))

	// Assistant turns contribute output tokens only.
	record := sink.TokenUsage[0]
	if record.MessageID != msgID || record.Role != types.RoleAssistant {
		t.Fatalf("record: %+v", record)
	}
	if record.DifferentialUsage.OutputTokens != 40 || record.DifferentialUsage.InputTokens != 0 {
		t.Fatalf("assistant differential: %+v", record.DifferentialUsage)
	}

	// User records contribute the input growth since the last assistant turn.
	in.UpdateTotals(ctx, types.TokenUsage{InputTokens: 130}, "claude-sonnet-4-5", "user-msg", types.RoleUser)
	record = sink.TokenUsage[1]
	if record.DifferentialUsage.InputTokens != 30 {
		t.Fatalf("user differential: %+v", record.DifferentialUsage)
	}

	// Shrinking input floors at zero rather than going negative.
	in.UpdateTotals(ctx, types.TokenUsage{InputTokens: 50}, "claude-sonnet-4-5", "user-msg-2", types.RoleUser)
	record = sink.TokenUsage[2]
	if record.DifferentialUsage.InputTokens != 0 {
		t.Fatalf("shrunk user differential: %+v", record.DifferentialUsage)
	}
}

func TestAddUserContentMerges(t *testing.T) {
	in := basicInteraction(t, nil)

	first := in.AddUserContent(types.TextPart{Text: "part one"})
	second := in.AddUserContent(types.TextPart{Text: "part two"})
	if first != second {
		t.Fatal("consecutive user parts should land in one message")
	}
	if msgs := in.Messages(); len(msgs) != 1 || len(msgs[0].Content) != 2 {
		t.Fatalf("messages: %d", len(msgs))
	}

	in.AddAssistantContent(context.Background(), types.ContentParts{types.TextPart{Text: "ok"}}, nil)
	third := in.AddUserContent(types.TextPart{Text: "part three"})
	if third == first {
		t.Fatal("a new user message should open after an assistant turn")
	}
}

func TestAddToolResultCoalesces(t *testing.T) {
	in := basicInteraction(t, nil)
	in.AddAssistantContent(context.Background(), types.ContentParts{
		types.ToolUsePart{ID: "tu-1", Name: "echo", Input: map[string]any{}},
	}, nil)

	in.AddToolResult("tu-1", types.ContentParts{types.TextPart{Text: "first"}}, false)
	in.AddToolResult("tu-1", types.ContentParts{types.TextPart{Text: "second"}}, true)

	last := in.LastMessage()
	if last.Role != types.RoleUser {
		t.Fatalf("tool results should land in a user message, got %q", last.Role)
	}

	result, _ := last.LastToolResult("tu-1")
	if result == nil {
		t.Fatal("tool result missing")
	}
	if len(result.Content) != 2 {
		t.Fatalf("coalesced content parts: %d", len(result.Content))
	}
	if !result.IsError {
		t.Fatal("error flag should be sticky")
	}

	// The failure also gets an explanatory text block for the model.
	text, ok := last.Content[len(last.Content)-1].(types.TextPart)
	if !ok || !strings.HasPrefix(text.Text, "The tool run failed: ") {
		t.Fatalf("failure text: %#v", last.Content[len(last.Content)-1])
	}
	if !strings.Contains(text.Text, "second") {
		t.Fatalf("failure text should flatten the result content: %q", text.Text)
	}
}

func TestConsecutiveAssistantTolerated(t *testing.T) {
	in := basicInteraction(t, nil)
	ctx := context.Background()

	in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "one"}}, nil)
	in.AddAssistantContent(ctx, types.ContentParts{types.TextPart{Text: "two"}}, nil)

	// Malformed, but both appends are applied.
	if msgs := in.Messages(); len(msgs) != 2 {
		t.Fatalf("messages: %d", len(msgs))
	}
	if in.Stats().InteractionTurnCount != 2 {
		t.Fatalf("turns: %d", in.Stats().InteractionTurnCount)
	}
}

func TestToolStatsAndResources(t *testing.T) {
	in := basicInteraction(t, nil)

	in.RecordToolUse("echo", true)
	in.RecordToolUse("echo", false)
	stats := in.ToolStatsSnapshot()["echo"]
	if stats.Count != 2 || stats.Success != 1 || stats.Failure != 1 {
		t.Fatalf("tool stats: %+v", stats)
	}
	if stats.LastUse.Success {
		t.Fatal("last use should reflect the failure")
	}

	in.RecordResourceModification("file:///tmp/a")
	resources := in.ResourcesSnapshot()
	if !resources.Accessed["file:///tmp/a"] || !resources.Modified["file:///tmp/a"] {
		t.Fatalf("modification should imply access: %+v", resources)
	}
}

func TestSnapshot(t *testing.T) {
	in := basicInteraction(t, nil)
	in.BeginStatement("")
	in.AddUserContent(types.TextPart{Text: "hello"})
	in.AddAssistantContent(context.Background(), types.ContentParts{types.TextPart{Text: "hi"}}, assistantResponse(10, 5))

	snapshot := in.Snapshot()
	if snapshot.InteractionID != in.ID() || snapshot.Type != string(InteractionConversation) {
		t.Fatalf("snapshot: %+v", snapshot)
	}
	if len(snapshot.Messages) != 2 {
		t.Fatalf("snapshot messages: %d", len(snapshot.Messages))
	}
	if snapshot.TokenUsage.TotalTokens != 15 {
		t.Fatalf("snapshot usage: %+v", snapshot.TokenUsage)
	}
}
