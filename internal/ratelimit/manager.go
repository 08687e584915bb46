// Package ratelimit tracks vendor-reported rate-limit state per provider.
//
// The manager is pure bookkeeping: the transport records whatever the last
// response reported, and admission decisions stay with the caller. Zeroed
// limits with Known=false mean "the vendor did not say", never "exhausted".
package ratelimit

import (
	"sync"
	"time"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// Manager holds the most recent rate-limit snapshot per provider.
// Updates are last-write-wins.
type Manager struct {
	mu     sync.RWMutex
	limits map[string]types.RateLimit
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{limits: make(map[string]types.RateLimit)}
}

// Update records the limit reported by provider's latest response. Limits
// with Known=false are ignored so a vendor that omits headers does not erase
// an earlier real reading.
func (m *Manager) Update(provider string, limit types.RateLimit) {
	if !limit.Known {
		return
	}
	m.mu.Lock()
	m.limits[provider] = limit
	m.mu.Unlock()
}

// Get returns the last known limit for provider.
func (m *Manager) Get(provider string) (types.RateLimit, bool) {
	m.mu.RLock()
	limit, ok := m.limits[provider]
	m.mu.RUnlock()
	return limit, ok
}

// Snapshot returns a copy of all known limits.
func (m *Manager) Snapshot() map[string]types.RateLimit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.RateLimit, len(m.limits))
	for provider, limit := range m.limits {
		out[provider] = limit
	}
	return out
}

// Exhausted reports whether provider has a known, currently-binding limit
// with no requests or tokens remaining. Each remaining counter binds only
// when its field group was actually reported; a vendor sending request
// headers alone must not read as token-exhausted.
func (m *Manager) Exhausted(provider string, now time.Time) bool {
	limit, ok := m.Get(provider)
	if !ok || !limit.Known {
		return false
	}
	reset := limit.RequestsResetDate
	if limit.TokensResetDate.After(reset) {
		reset = limit.TokensResetDate
	}
	if !reset.IsZero() && now.After(reset) {
		return false
	}
	return (limit.RequestsKnown && limit.RequestsRemaining == 0) ||
		(limit.TokensKnown && limit.TokensRemaining == 0)
}
