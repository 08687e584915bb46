package providers

import (
	"net/http"
	"testing"
	"time"
)

func TestRateLimitFromHeaders(t *testing.T) {
	reset := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	header := http.Header{}
	header.Set("anthropic-ratelimit-requests-remaining", "45")
	header.Set("anthropic-ratelimit-requests-limit", "50")
	header.Set("anthropic-ratelimit-requests-reset", reset.Format(time.RFC3339))
	header.Set("anthropic-ratelimit-tokens-remaining", "39000")
	header.Set("anthropic-ratelimit-tokens-limit", "40000")

	limit := rateLimitFromHeaders(header)
	if !limit.Known || !limit.RequestsKnown || !limit.TokensKnown {
		t.Fatalf("presence flags: %+v", limit)
	}
	if limit.RequestsRemaining != 45 || limit.RequestsLimit != 50 {
		t.Fatalf("request fields: %+v", limit)
	}
	if !limit.RequestsResetDate.Equal(reset) {
		t.Fatalf("reset date: %v", limit.RequestsResetDate)
	}
	if limit.TokensRemaining != 39000 || limit.TokensLimit != 40000 {
		t.Fatalf("token fields: %+v", limit)
	}
}

func TestRateLimitFromHeadersRequestGroupOnly(t *testing.T) {
	header := http.Header{}
	header.Set("anthropic-ratelimit-requests-remaining", "0")
	header.Set("anthropic-ratelimit-requests-limit", "50")

	limit := rateLimitFromHeaders(header)
	if !limit.Known || !limit.RequestsKnown {
		t.Fatalf("request group not marked present: %+v", limit)
	}
	if limit.TokensKnown {
		t.Fatal("absent token group marked present")
	}
}

func TestRateLimitFromHeadersAbsent(t *testing.T) {
	limit := rateLimitFromHeaders(http.Header{})
	if limit.Known || limit.RequestsKnown || limit.TokensKnown {
		t.Fatalf("empty headers produced a known reading: %+v", limit)
	}
}
