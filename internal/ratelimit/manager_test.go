package ratelimit

import (
	"testing"
	"time"

	"github.com/beyondbetter/bb-core/pkg/types"
)

func TestUpdateIgnoresUnknown(t *testing.T) {
	m := NewManager()

	real := types.RateLimit{RequestsRemaining: 10, RequestsLimit: 50, Known: true}
	m.Update("anthropic", real)

	// A response without headers must not erase the last real reading.
	m.Update("anthropic", types.RateLimit{})

	limit, ok := m.Get("anthropic")
	if !ok || limit.RequestsRemaining != 10 {
		t.Fatalf("real reading lost: %+v ok=%v", limit, ok)
	}
}

func TestExhausted(t *testing.T) {
	now := time.Unix(10000, 0)
	m := NewManager()

	// No reading at all: never exhausted.
	if m.Exhausted("anthropic", now) {
		t.Fatal("unknown provider reported exhausted")
	}

	// Zero remaining with a future reset is exhausted.
	m.Update("anthropic", types.RateLimit{
		RequestsRemaining: 0,
		RequestsLimit:     50,
		RequestsResetDate: now.Add(time.Minute),
		RequestsKnown:     true,
		TokensRemaining:   100,
		TokensKnown:       true,
		Known:             true,
	})
	if !m.Exhausted("anthropic", now) {
		t.Fatal("zero requests remaining should be exhausted before reset")
	}

	// Past the reset the reading no longer binds.
	if m.Exhausted("anthropic", now.Add(2*time.Minute)) {
		t.Fatal("stale reading should not bind after reset")
	}

	// Zero tokens also exhausts.
	m.Update("openai", types.RateLimit{
		RequestsRemaining: 5,
		RequestsKnown:     true,
		TokensRemaining:   0,
		TokensResetDate:   now.Add(time.Minute),
		TokensKnown:       true,
		Known:             true,
	})
	if !m.Exhausted("openai", now) {
		t.Fatal("zero tokens remaining should be exhausted")
	}
}

func TestExhaustedRequestHeadersOnly(t *testing.T) {
	now := time.Unix(10000, 0)
	m := NewManager()

	// The vendor sent only the request group; the zero-valued token fields
	// were never reported and must not bind.
	m.Update("groq", types.RateLimit{
		RequestsRemaining: 40,
		RequestsLimit:     100,
		RequestsResetDate: now.Add(time.Minute),
		RequestsKnown:     true,
		Known:             true,
	})
	if m.Exhausted("groq", now) {
		t.Fatal("unreported token fields treated as exhausted")
	}

	// The same shape with the request budget spent is exhausted.
	m.Update("groq", types.RateLimit{
		RequestsRemaining: 0,
		RequestsLimit:     100,
		RequestsResetDate: now.Add(time.Minute),
		RequestsKnown:     true,
		Known:             true,
	})
	if !m.Exhausted("groq", now) {
		t.Fatal("spent request budget should still be exhausted")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewManager()
	m.Update("anthropic", types.RateLimit{RequestsRemaining: 1, Known: true})

	snap := m.Snapshot()
	snap["anthropic"] = types.RateLimit{RequestsRemaining: 999, Known: true}

	limit, _ := m.Get("anthropic")
	if limit.RequestsRemaining != 1 {
		t.Fatal("snapshot mutation leaked into the manager")
	}
}
