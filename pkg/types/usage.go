package types

import "time"

// TokenUsage is the normalized per-response token accounting. Vendors that do
// not report cache or thinking tokens get zeros, never absent fields.
type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	ThoughtTokens            int `json:"thought_tokens"`
	TotalTokens              int `json:"total_tokens"`
	TotalAllTokens           int `json:"total_all_tokens"`
}

// Normalize recomputes the derived totals. TotalTokens covers input and
// output only; TotalAllTokens is the grand sum including cache and thinking.
func (u *TokenUsage) Normalize() {
	u.TotalTokens = u.InputTokens + u.OutputTokens
	u.TotalAllTokens = u.InputTokens + u.OutputTokens +
		u.CacheCreationInputTokens + u.CacheReadInputTokens + u.ThoughtTokens
}

// Add accumulates other into u and renormalizes the totals.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.ThoughtTokens += other.ThoughtTokens
	u.Normalize()
}

// Reset zeroes all fields.
func (u *TokenUsage) Reset() {
	*u = TokenUsage{}
}

// CacheImpact quantifies what prompt caching saved on one response.
// The formulas are deliberately frozen: potential is the full-cost sum, actual
// is the cache-touched sum, and savings never goes negative.
type CacheImpact struct {
	PotentialCost     int     `json:"potential_cost"`
	ActualCost        int     `json:"actual_cost"`
	SavingsTotal      int     `json:"savings_total"`
	SavingsPercentage float64 `json:"savings_percentage"`
}

// NewCacheImpact derives the cache impact for a usage snapshot.
func NewCacheImpact(usage TokenUsage) CacheImpact {
	potential := usage.InputTokens + usage.OutputTokens +
		usage.CacheReadInputTokens + usage.CacheCreationInputTokens
	actual := usage.CacheReadInputTokens + usage.CacheCreationInputTokens
	savings := potential - actual
	if savings < 0 {
		savings = 0
	}
	pct := 0.0
	if potential > 0 {
		pct = 100 * float64(savings) / float64(potential)
	}
	return CacheImpact{
		PotentialCost:     potential,
		ActualCost:        actual,
		SavingsTotal:      savings,
		SavingsPercentage: pct,
	}
}

// TokenUsageRecord is the append-only persistence shape for one turn's usage.
type TokenUsageRecord struct {
	InteractionID      string      `json:"interaction_id"`
	MessageID          string      `json:"message_id"`
	StatementCount     int         `json:"statement_count"`
	StatementTurnCount int         `json:"statement_turn_count"`
	Timestamp          time.Time   `json:"timestamp"`
	Model              string      `json:"model"`
	Role               Role        `json:"role"`
	Type               string      `json:"type"`
	RawUsage           TokenUsage  `json:"raw_usage"`
	DifferentialUsage  TokenUsage  `json:"differential_usage"`
	CacheImpact        CacheImpact `json:"cache_impact"`
}
