package session

import (
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// TokenPrefix identifies API tokens issued by this core.
const TokenPrefix = "bb_"

const tokenStripes = 16

// ErrTokenInvalid reports an unknown, malformed, or expired API token.
var ErrTokenInvalid = errors.New("session: invalid api token")

// TokenRecord is one issued API token.
type TokenRecord struct {
	Token     string
	UserID    string
	Scopes    []string
	Metadata  map[string]string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry. Zero ExpiresAt means
// no expiry.
func (t *TokenRecord) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// TokenOptions configures token generation.
type TokenOptions struct {
	Scopes   []string
	TTL      time.Duration
	Metadata map[string]string
}

// tokenTable is a striped map of token string to record. Striping keeps
// validation cheap under concurrent request load.
type tokenTable struct {
	stripes [tokenStripes]struct {
		mu      sync.RWMutex
		records map[string]*TokenRecord
	}
}

func newTokenTable() *tokenTable {
	t := &tokenTable{}
	for i := range t.stripes {
		t.stripes[i].records = make(map[string]*TokenRecord)
	}
	return t
}

func (t *tokenTable) stripe(token string) *struct {
	mu      sync.RWMutex
	records map[string]*TokenRecord
} {
	h := fnv.New32a()
	h.Write([]byte(token))
	return &t.stripes[h.Sum32()%tokenStripes]
}

func (t *tokenTable) put(record *TokenRecord) {
	s := t.stripe(record.Token)
	s.mu.Lock()
	s.records[record.Token] = record
	s.mu.Unlock()
}

func (t *tokenTable) get(token string) (*TokenRecord, bool) {
	s := t.stripe(token)
	s.mu.RLock()
	record, ok := s.records[token]
	s.mu.RUnlock()
	return record, ok
}

func (t *tokenTable) remove(token string) {
	s := t.stripe(token)
	s.mu.Lock()
	delete(s.records, token)
	s.mu.Unlock()
}

func (t *tokenTable) revokeAllFor(userID string) int {
	removed := 0
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.Lock()
		for token, record := range s.records {
			if record.UserID == userID {
				delete(s.records, token)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *tokenTable) sweep(now time.Time) int {
	removed := 0
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.Lock()
		for token, record := range s.records {
			if record.Expired(now) {
				delete(s.records, token)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *tokenTable) len() int {
	total := 0
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.RLock()
		total += len(s.records)
		s.mu.RUnlock()
	}
	return total
}

// WellFormed reports whether token matches the issued shape ("bb_" followed
// by two UUIDs joined with an underscore) without consulting the registry.
func WellFormed(token string) bool {
	rest, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return false
	}
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 {
		return false
	}
	for _, part := range parts {
		if _, err := uuid.Parse(part); err != nil {
			return false
		}
	}
	return true
}

// GenerateToken issues a new API token for the user named by uc. The user
// must hold a live session.
func (r *Registry) GenerateToken(uc *types.UserContext, opts TokenOptions) (*TokenRecord, error) {
	if uc == nil || uc.UserID == "" {
		return nil, ErrNoUserContext
	}
	if _, ok := r.Session(uc.UserID); !ok {
		return nil, ErrNoSession
	}

	now := r.now()
	record := &TokenRecord{
		Token:     TokenPrefix + uuid.NewString() + "_" + uuid.NewString(),
		UserID:    uc.UserID,
		Scopes:    append([]string(nil), opts.Scopes...),
		Metadata:  opts.Metadata,
		CreatedAt: now,
	}
	if opts.TTL > 0 {
		record.ExpiresAt = now.Add(opts.TTL)
	}
	r.tokens.put(record)
	return record, nil
}

// ValidateToken resolves an API token to a user context. Expired tokens are
// purged lazily on lookup. The token's user must still hold a live session.
func (r *Registry) ValidateToken(token string) (*types.UserContext, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, ErrTokenInvalid
	}
	record, ok := r.tokens.get(token)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if record.Expired(r.now()) {
		r.tokens.remove(token)
		return nil, ErrTokenInvalid
	}
	session, ok := r.Session(record.UserID)
	if !ok {
		return nil, ErrNoSession
	}
	return &types.UserContext{
		UserID:  record.UserID,
		User:    session.User,
		Session: session,
	}, nil
}

// RevokeToken removes a single token. Only the owning user may revoke it.
func (r *Registry) RevokeToken(uc *types.UserContext, token string) error {
	if uc == nil || uc.UserID == "" {
		return ErrNoUserContext
	}
	record, ok := r.tokens.get(token)
	if !ok {
		return ErrTokenInvalid
	}
	if record.UserID != uc.UserID {
		return ErrTokenInvalid
	}
	r.tokens.remove(token)
	return nil
}

// RevokeAllTokens removes every token belonging to the user named by uc and
// returns how many were removed.
func (r *Registry) RevokeAllTokens(uc *types.UserContext) (int, error) {
	if uc == nil || uc.UserID == "" {
		return 0, ErrNoUserContext
	}
	return r.tokens.revokeAllFor(uc.UserID), nil
}

// CleanupTokens removes all expired tokens and returns the count. Wired to a
// cron schedule by the daemon.
func (r *Registry) CleanupTokens() int {
	return r.tokens.sweep(r.now())
}

// TokenCount returns the number of live token records.
func (r *Registry) TokenCount() int {
	return r.tokens.len()
}
