package persist

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/beyondbetter/bb-core/pkg/types"
)

func sampleUsageRecord() *types.TokenUsageRecord {
	return &types.TokenUsageRecord{
		InteractionID:      "int-1",
		MessageID:          "msg-1",
		StatementCount:     1,
		StatementTurnCount: 2,
		Timestamp:          time.Unix(12000, 0),
		Model:              "claude-sonnet-4-5",
		Role:               types.RoleAssistant,
		Type:               "assistant",
		RawUsage:           types.TokenUsage{InputTokens: 100, OutputTokens: 40, TotalTokens: 140},
		DifferentialUsage:  types.TokenUsage{OutputTokens: 40, TotalTokens: 40},
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	if err := sink.WriteTokenUsage(ctx, sampleUsageRecord()); err != nil {
		t.Fatalf("WriteTokenUsage: %v", err)
	}
	if err := sink.WriteSystemPrompt(ctx, &SystemPromptRecord{InteractionID: "int-1", Model: "m", Prompt: "p"}); err != nil {
		t.Fatalf("WriteSystemPrompt: %v", err)
	}
	if err := sink.WriteInteractionSnapshot(ctx, &InteractionSnapshot{InteractionID: "int-1", Type: "conversation", Model: "m"}); err != nil {
		t.Fatalf("WriteInteractionSnapshot: %v", err)
	}

	if len(sink.TokenUsage) != 1 || len(sink.Prompts) != 1 || len(sink.Snapshots) != 1 {
		t.Fatalf("counts: usage=%d prompts=%d snapshots=%d",
			len(sink.TokenUsage), len(sink.Prompts), len(sink.Snapshots))
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.WriteTokenUsage(cancelled, sampleUsageRecord()); err == nil {
		t.Fatal("cancelled context should fail the write")
	}
	if len(sink.TokenUsage) != 1 {
		t.Fatal("failed write must not append")
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	if err := sink.WriteTokenUsage(ctx, sampleUsageRecord()); err != nil {
		t.Fatalf("WriteTokenUsage: %v", err)
	}
	if err := sink.WriteSystemPrompt(ctx, &SystemPromptRecord{InteractionID: "int-1", Model: "m", Prompt: "hello"}); err != nil {
		t.Fatalf("WriteSystemPrompt: %v", err)
	}
	if err := sink.WriteInteractionSnapshot(ctx, &InteractionSnapshot{
		InteractionID: "int-1",
		Type:          "conversation",
		Model:         "m",
		Messages:      []*types.Message{{Role: types.RoleUser}},
	}); err != nil {
		t.Fatalf("WriteInteractionSnapshot: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open for verification: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"token_usage", "system_prompts", "interaction_snapshots"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("%s rows: %d", table, count)
		}
	}

	var interactionID, role string
	err = db.QueryRow("SELECT interaction_id, role FROM token_usage").Scan(&interactionID, &role)
	if err != nil {
		t.Fatalf("read token_usage row: %v", err)
	}
	if interactionID != "int-1" || role != string(types.RoleAssistant) {
		t.Fatalf("row: interaction=%q role=%q", interactionID, role)
	}
}
