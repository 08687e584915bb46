package providers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// decodeSchemaMap parses a raw JSON schema into a map for vendors that take
// schema objects rather than raw bytes.
func decodeSchemaMap(schema json.RawMessage) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(schema, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// rateLimitFromHeaders parses the anthropic-style rate-limit headers. The
// Known flags stay false for absent field groups so zeros read as "unknown"
// downstream, never as "exhausted". Vendors routinely send only one group.
func rateLimitFromHeaders(header http.Header) types.RateLimit {
	limit := types.RateLimit{}

	read := func(name string) (int, bool) {
		value := header.Get(name)
		if value == "" {
			return 0, false
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	readTime := func(name string) (time.Time, bool) {
		value := header.Get(name)
		if value == "" {
			return time.Time{}, false
		}
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, false
		}
		return at, true
	}

	if n, ok := read("anthropic-ratelimit-requests-remaining"); ok {
		limit.RequestsRemaining = n
		limit.RequestsKnown = true
	}
	if n, ok := read("anthropic-ratelimit-requests-limit"); ok {
		limit.RequestsLimit = n
		limit.RequestsKnown = true
	}
	if at, ok := readTime("anthropic-ratelimit-requests-reset"); ok {
		limit.RequestsResetDate = at
		limit.RequestsKnown = true
	}
	if n, ok := read("anthropic-ratelimit-tokens-remaining"); ok {
		limit.TokensRemaining = n
		limit.TokensKnown = true
	}
	if n, ok := read("anthropic-ratelimit-tokens-limit"); ok {
		limit.TokensLimit = n
		limit.TokensKnown = true
	}
	if at, ok := readTime("anthropic-ratelimit-tokens-reset"); ok {
		limit.TokensResetDate = at
		limit.TokensKnown = true
	}
	limit.Known = limit.RequestsKnown || limit.TokensKnown
	return limit
}
