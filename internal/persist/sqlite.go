package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/beyondbetter/bb-core/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS token_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	interaction_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	statement_count INTEGER NOT NULL,
	statement_turn_count INTEGER NOT NULL,
	model TEXT NOT NULL,
	role TEXT NOT NULL,
	type TEXT NOT NULL,
	raw_usage TEXT NOT NULL,
	differential_usage TEXT NOT NULL,
	cache_impact TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_token_usage_interaction ON token_usage(interaction_id);

CREATE TABLE IF NOT EXISTS system_prompts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	interaction_id TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS interaction_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	interaction_id TEXT NOT NULL,
	parent_id TEXT,
	type TEXT NOT NULL,
	model TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_interaction ON interaction_snapshots(interaction_id);
`

// SQLiteSink appends records to a local sqlite database. Tables are
// append-only; nothing in the core updates or deletes rows.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (and migrates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite %s: %w", path, err)
	}
	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migrate sqlite: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

var _ Sink = (*SQLiteSink)(nil)

func (s *SQLiteSink) WriteTokenUsage(ctx context.Context, record *types.TokenUsageRecord) error {
	raw, err := json.Marshal(record.RawUsage)
	if err != nil {
		return fmt.Errorf("persist: marshal raw usage: %w", err)
	}
	differential, err := json.Marshal(record.DifferentialUsage)
	if err != nil {
		return fmt.Errorf("persist: marshal differential usage: %w", err)
	}
	impact, err := json.Marshal(record.CacheImpact)
	if err != nil {
		return fmt.Errorf("persist: marshal cache impact: %w", err)
	}

	timestamp := record.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO token_usage (interaction_id, message_id, statement_count, statement_turn_count, model, role, type, raw_usage, differential_usage, cache_impact, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.InteractionID, record.MessageID, record.StatementCount, record.StatementTurnCount,
		record.Model, string(record.Role), record.Type, string(raw), string(differential), string(impact), timestamp,
	)
	if err != nil {
		return fmt.Errorf("persist: write token usage: %w", err)
	}
	return nil
}

func (s *SQLiteSink) WriteSystemPrompt(ctx context.Context, record *SystemPromptRecord) error {
	timestamp := record.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_prompts (interaction_id, model, prompt, created_at)
		VALUES (?, ?, ?, ?)`,
		record.InteractionID, record.Model, record.Prompt, timestamp,
	)
	if err != nil {
		return fmt.Errorf("persist: write system prompt: %w", err)
	}
	return nil
}

func (s *SQLiteSink) WriteInteractionSnapshot(ctx context.Context, snapshot *InteractionSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}
	timestamp := snapshot.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interaction_snapshots (interaction_id, parent_id, type, model, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.InteractionID, snapshot.ParentID, snapshot.Type, snapshot.Model, string(payload), timestamp,
	)
	if err != nil {
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
