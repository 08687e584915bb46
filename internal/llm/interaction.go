package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beyondbetter/bb-core/internal/config"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/persist"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// InteractionCallbacks assemble the per-call request content. All three are
// mandatory; construction fails without a complete set.
type InteractionCallbacks struct {
	PrepareSystemPrompt func(ctx context.Context, in *Interaction) (string, error)
	PrepareMessages     func(ctx context.Context, in *Interaction) ([]*types.Message, error)
	PrepareTools        func(ctx context.Context, in *Interaction) ([]types.ToolDefinition, error)
}

func (c InteractionCallbacks) complete() bool {
	return c.PrepareSystemPrompt != nil && c.PrepareMessages != nil && c.PrepareTools != nil
}

// Objectives track what the interaction is trying to achieve, overall and
// per user statement.
type Objectives struct {
	Overall      string
	PerStatement []string
	Timestamp    time.Time
}

// ResourceMetrics tracks which resources the interaction touched.
// Modified is always a subset of Accessed.
type ResourceMetrics struct {
	Accessed map[string]bool
	Modified map[string]bool
	Active   map[string]bool
}

// ToolStats aggregates per-tool call outcomes. Success plus failure always
// equals Count.
type ToolStats struct {
	Count   int
	Success int
	Failure int
	LastUse struct {
		Success   bool
		Timestamp time.Time
	}
}

// InteractionOptions configures a new interaction.
type InteractionOptions struct {
	ID       string
	ParentID string
	Type     InteractionType
	Model    string

	CollaborationID string
	Collaborations  *CollaborationTable

	Provider  Provider
	Callbacks InteractionCallbacks

	Params RequestParams
	Prefs  config.RequestPrefs

	Models *ModelRegistry
	Sink   persist.Sink
	Logger *observability.Logger
}

// Interaction is a user-bounded multi-turn exchange with one model. All
// message appends and accounting updates are serialized by an internal
// mutex, which is never held across an adapter call.
type Interaction struct {
	id       string
	parentID string
	kind     InteractionType
	model    string

	collaborationID string
	collaborations  *CollaborationTable

	provider  Provider
	callbacks InteractionCallbacks
	params    RequestParams
	prefs     config.RequestPrefs

	models *ModelRegistry
	sink   persist.Sink
	logger *observability.Logger

	mu       sync.Mutex
	messages []*types.Message

	statementCount       int
	statementTurnCount   int
	interactionTurnCount int

	usageTurn        types.TokenUsage
	usageStatement   types.TokenUsage
	usageInteraction types.TokenUsage

	// lastAssistantInputTokens feeds the differential calculation for
	// subsequent user-role records.
	lastAssistantInputTokens int

	totalProviderRequests int

	objectives Objectives
	resources  ResourceMetrics
	toolStats  map[string]*ToolStats
}

// NewInteraction constructs an interaction. It fails when the model,
// provider, or any callback is missing; an interaction without a complete
// callback set cannot assemble requests.
func NewInteraction(opts InteractionOptions) (*Interaction, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: interaction requires a model")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("llm: interaction requires a provider")
	}
	if !opts.Callbacks.complete() {
		return nil, fmt.Errorf("llm: interaction callback set is incomplete")
	}
	if opts.Models == nil {
		return nil, fmt.Errorf("llm: interaction requires a model registry")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Type == "" {
		opts.Type = InteractionConversation
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNoopLogger()
	}
	if opts.Sink == nil {
		opts.Sink = persist.NewMemorySink()
	}

	in := &Interaction{
		id:              opts.ID,
		parentID:        opts.ParentID,
		kind:            opts.Type,
		model:           opts.Model,
		collaborationID: opts.CollaborationID,
		collaborations:  opts.Collaborations,
		provider:        opts.Provider,
		callbacks:       opts.Callbacks,
		params:          opts.Params,
		prefs:           opts.Prefs,
		models:          opts.Models,
		sink:            opts.Sink,
		logger:          opts.Logger,
		toolStats:       make(map[string]*ToolStats),
		resources: ResourceMetrics{
			Accessed: make(map[string]bool),
			Modified: make(map[string]bool),
			Active:   make(map[string]bool),
		},
	}
	return in, nil
}

// ID returns the interaction id.
func (in *Interaction) ID() string { return in.id }

// ParentID returns the parent interaction id for sub-agents, or "".
func (in *Interaction) ParentID() string { return in.parentID }

// Type returns the interaction type. Immutable after construction.
func (in *Interaction) Type() InteractionType { return in.kind }

// Model returns the current model.
func (in *Interaction) Model() string { return in.model }

// Provider returns the adapter this interaction speaks through.
func (in *Interaction) Provider() Provider { return in.provider }

// Collaboration resolves the owning collaboration, if it still exists.
func (in *Interaction) Collaboration() (*Collaboration, bool) {
	if in.collaborations == nil || in.collaborationID == "" {
		return nil, false
	}
	return in.collaborations.Lookup(in.collaborationID)
}

// ModelConfig resolves the effective parameters for the current model.
func (in *Interaction) ModelConfig() types.ModelConfig {
	return in.models.ResolveModelConfig(in.model, in.params, in.prefs, in.kind)
}

// Stats snapshots the turn counters.
func (in *Interaction) Stats() types.InteractionStats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.statsLocked()
}

func (in *Interaction) statsLocked() types.InteractionStats {
	return types.InteractionStats{
		StatementCount:       in.statementCount,
		StatementTurnCount:   in.statementTurnCount,
		InteractionTurnCount: in.interactionTurnCount,
	}
}

// TokenUsageTurn returns the last turn's usage.
func (in *Interaction) TokenUsageTurn() types.TokenUsage {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.usageTurn
}

// TokenUsageStatement returns the current statement's accumulated usage.
func (in *Interaction) TokenUsageStatement() types.TokenUsage {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.usageStatement
}

// TokenUsageInteraction returns the lifetime accumulated usage.
func (in *Interaction) TokenUsageInteraction() types.TokenUsage {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.usageInteraction
}

// TotalProviderRequests counts every adapter attempt, including failures.
func (in *Interaction) TotalProviderRequests() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.totalProviderRequests
}

// Messages returns a copy of the message log.
func (in *Interaction) Messages() []*types.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*types.Message, len(in.messages))
	copy(out, in.messages)
	return out
}

// LastMessage returns the trailing message, or nil.
func (in *Interaction) LastMessage() *types.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.messages) == 0 {
		return nil
	}
	return in.messages[len(in.messages)-1]
}

// BeginStatement opens a new user statement: the statement counter advances
// and the per-statement turn counter resets to zero.
func (in *Interaction) BeginStatement(objective string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.statementCount++
	in.statementTurnCount = 0
	if objective != "" && len(in.objectives.PerStatement) < in.statementCount {
		in.objectives.PerStatement = append(in.objectives.PerStatement, objective)
		in.objectives.Timestamp = time.Now().UTC()
	}
}

// AddUserContent appends parts to the trailing user message, creating a new
// one when the log is empty or ends with an assistant message. Returns the
// id of the message the parts landed in.
func (in *Interaction) AddUserContent(parts ...types.ContentPart) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.addUserContentLocked(parts...)
}

func (in *Interaction) addUserContentLocked(parts ...types.ContentPart) string {
	if last := in.lastMessageLocked(); last != nil && last.Role == types.RoleUser {
		last.Content = append(last.Content, parts...)
		return last.ID
	}
	msg := types.NewMessage(types.RoleUser, parts...)
	msg.Stats = in.statsLocked()
	in.messages = append(in.messages, msg)
	return msg.ID
}

// AddAssistantContent appends an assistant message, advances both turn
// counters, and folds the response usage into the accounting triples, all in
// one critical section. A consecutive assistant append is a malformed
// exchange and is logged as a diagnostic but still applied.
func (in *Interaction) AddAssistantContent(ctx context.Context, parts types.ContentParts, response *types.ProviderResponse) string {
	in.mu.Lock()
	defer in.mu.Unlock()

	if last := in.lastMessageLocked(); last != nil && last.Role == types.RoleAssistant {
		in.logger.Error(ctx, "consecutive assistant messages appended",
			"interaction_id", in.id, "previous_message_id", last.ID)
	}

	msg := types.NewMessage(types.RoleAssistant, parts...)
	msg.ProviderResponse = response
	msg.Stats = in.statsLocked()
	in.messages = append(in.messages, msg)

	if response != nil {
		in.updateTotalsLocked(ctx, response.Usage, response.Model, msg.ID, types.RoleAssistant, "turn")
	}

	in.statementTurnCount++
	in.interactionTurnCount++
	return msg.ID
}

// AddToolResult merges a tool outcome into the trailing user message. Results
// for an already-present tool_use id are coalesced: content is appended and
// the error flag is sticky. A failed run also appends an explanatory text
// block for the model.
func (in *Interaction) AddToolResult(toolUseID string, content types.ContentParts, isError bool) string {
	in.mu.Lock()
	defer in.mu.Unlock()

	last := in.lastMessageLocked()
	if last == nil || last.Role != types.RoleUser {
		msg := types.NewMessage(types.RoleUser)
		msg.Stats = in.statsLocked()
		in.messages = append(in.messages, msg)
		last = msg
	}

	if existing, idx := last.LastToolResult(toolUseID); existing != nil {
		existing.Content = append(existing.Content, content...)
		existing.IsError = existing.IsError || isError
		last.Content[idx] = *existing
	} else {
		last.Content = append(last.Content, types.ToolResultPart{
			ToolUseID: toolUseID,
			Content:   content,
			IsError:   isError,
		})
	}

	if isError {
		last.Content = append(last.Content, types.TextPart{
			Text: "The tool run failed: " + flattenText(content),
		})
	}
	return last.ID
}

func (in *Interaction) lastMessageLocked() *types.Message {
	if len(in.messages) == 0 {
		return nil
	}
	return in.messages[len(in.messages)-1]
}

func flattenText(parts types.ContentParts) string {
	var b strings.Builder
	for _, part := range parts {
		if text, ok := part.(types.TextPart); ok {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

// SetOverallObjective records the interaction-level objective.
func (in *Interaction) SetOverallObjective(objective string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.objectives.Overall = objective
	in.objectives.Timestamp = time.Now().UTC()
}

// ObjectivesSnapshot returns a copy of the objectives.
func (in *Interaction) ObjectivesSnapshot() Objectives {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.objectives
	out.PerStatement = append([]string(nil), in.objectives.PerStatement...)
	return out
}

// RecordResourceAccess marks a resource as accessed. Best-effort: never fails.
func (in *Interaction) RecordResourceAccess(uri string) {
	in.mu.Lock()
	in.resources.Accessed[uri] = true
	in.mu.Unlock()
}

// RecordResourceModification marks a resource as modified, which implies
// accessed.
func (in *Interaction) RecordResourceModification(uri string) {
	in.mu.Lock()
	in.resources.Accessed[uri] = true
	in.resources.Modified[uri] = true
	in.mu.Unlock()
}

// SetResourceActive toggles a resource's membership in the active set.
func (in *Interaction) SetResourceActive(uri string, active bool) {
	in.mu.Lock()
	if active {
		in.resources.Active[uri] = true
	} else {
		delete(in.resources.Active, uri)
	}
	in.mu.Unlock()
}

// ResourcesSnapshot returns copies of the three resource sets.
func (in *Interaction) ResourcesSnapshot() ResourceMetrics {
	in.mu.Lock()
	defer in.mu.Unlock()
	return ResourceMetrics{
		Accessed: copySet(in.resources.Accessed),
		Modified: copySet(in.resources.Modified),
		Active:   copySet(in.resources.Active),
	}
}

func copySet(src map[string]bool) map[string]bool {
	out := make(map[string]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// RecordToolUse updates per-tool stats. Best-effort: never fails, never
// propagates.
func (in *Interaction) RecordToolUse(name string, success bool) {
	now := time.Now().UTC()
	in.mu.Lock()
	stats, ok := in.toolStats[name]
	if !ok {
		stats = &ToolStats{}
		in.toolStats[name] = stats
	}
	stats.Count++
	if success {
		stats.Success++
	} else {
		stats.Failure++
	}
	stats.LastUse.Success = success
	stats.LastUse.Timestamp = now
	in.mu.Unlock()
}

// ToolStatsSnapshot returns a copy of the per-tool stats.
func (in *Interaction) ToolStatsSnapshot() map[string]ToolStats {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]ToolStats, len(in.toolStats))
	for name, stats := range in.toolStats {
		out[name] = *stats
	}
	return out
}

// Snapshot serializes the interaction for the persistence sink.
func (in *Interaction) Snapshot() *persist.InteractionSnapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	messages := make([]*types.Message, len(in.messages))
	copy(messages, in.messages)
	return &persist.InteractionSnapshot{
		InteractionID: in.id,
		ParentID:      in.parentID,
		Type:          string(in.kind),
		Model:         in.model,
		Messages:      messages,
		Stats:         in.statsLocked(),
		TokenUsage:    in.usageInteraction,
		Timestamp:     time.Now().UTC(),
	}
}

// countProviderRequest increments the attempt counter. Failed turns change
// nothing else.
func (in *Interaction) countProviderRequest() {
	in.mu.Lock()
	in.totalProviderRequests++
	in.mu.Unlock()
}
