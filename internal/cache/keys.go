package cache

import (
	"crypto/md5" // #nosec G401 -- cache key derivation, not authentication
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// NamespaceMessageRequest prefixes response-cache keys.
const NamespaceMessageRequest = "messageRequest"

// Key joins namespace segments into a store key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// RequestKey derives the deterministic cache key for a request body:
// [namespace, provider, md5(canonical-json(request))]. Identical request
// bodies always map to the same key.
func RequestKey(provider string, request any) (string, error) {
	canonical, err := CanonicalJSON(request)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize request: %w", err)
	}
	sum := md5.Sum(canonical) // #nosec G401
	return Key(NamespaceMessageRequest, provider, hex.EncodeToString(sum[:])), nil
}

// CanonicalJSON serializes v with deterministic key ordering by round-tripping
// through an untyped value; encoding/json sorts map keys on output.
func CanonicalJSON(v any) ([]byte, error) {
	first, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var untyped any
	if err := json.Unmarshal(first, &untyped); err != nil {
		return nil, err
	}
	return json.Marshal(untyped)
}
