package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateTokenFormat(t *testing.T) {
	reg := NewRegistry(nil, nil)
	uc := userContext("u1")

	// A live session is a precondition for issuing tokens.
	if _, err := reg.GenerateToken(uc, TokenOptions{}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	reg.RegisterSession(uc, liveSession("u1"))
	record, err := reg.GenerateToken(uc, TokenOptions{Scopes: []string{"read"}})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !strings.HasPrefix(record.Token, TokenPrefix) {
		t.Fatalf("token missing prefix: %q", record.Token)
	}
	if !WellFormed(record.Token) {
		t.Fatalf("issued token fails its own format check: %q", record.Token)
	}
	if record.UserID != "u1" || len(record.Scopes) != 1 {
		t.Fatalf("record: %+v", record)
	}

	second, _ := reg.GenerateToken(uc, TokenOptions{})
	if second.Token == record.Token {
		t.Fatal("tokens must be unique")
	}
}

func TestWellFormed(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"bb_3f2504e0-4f89-41d3-9a0c-0305e82c3301_9b2c1f10-6e1a-4c3d-8f5b-2a7d9e4c1b00", true},
		{"bb_not-a-uuid_also-not", false},
		{"sk_3f2504e0-4f89-41d3-9a0c-0305e82c3301_9b2c1f10-6e1a-4c3d-8f5b-2a7d9e4c1b00", false},
		{"bb_3f2504e0-4f89-41d3-9a0c-0305e82c3301", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := WellFormed(tt.token); got != tt.want {
			t.Errorf("WellFormed(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestValidateToken(t *testing.T) {
	reg := NewRegistry(nil, nil)
	uc := userContext("u1")
	reg.RegisterSession(uc, liveSession("u1"))
	record, _ := reg.GenerateToken(uc, TokenOptions{})

	resolved, err := reg.ValidateToken(record.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if resolved.UserID != "u1" || resolved.Session == nil {
		t.Fatalf("resolved context: %+v", resolved)
	}

	if _, err := reg.ValidateToken("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("malformed token: %v", err)
	}
	if _, err := reg.ValidateToken(TokenPrefix + "unknown"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("unknown token: %v", err)
	}
}

func TestValidateTokenExpiryPurges(t *testing.T) {
	reg := NewRegistry(nil, nil)
	current := time.Unix(9000, 0)
	reg.now = func() time.Time { return current }

	uc := userContext("u1")
	session := liveSession("u1")
	session.ExpiresAt = current.Add(24 * time.Hour)
	reg.RegisterSession(uc, session)

	record, err := reg.GenerateToken(uc, TokenOptions{TTL: time.Second})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := reg.ValidateToken(record.Token); err != nil {
		t.Fatalf("fresh token should validate: %v", err)
	}

	current = current.Add(1100 * time.Millisecond)
	if _, err := reg.ValidateToken(record.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token should be invalid, got %v", err)
	}
	if reg.TokenCount() != 0 {
		t.Fatal("expired token should be purged on lookup")
	}
}

func TestValidateTokenRequiresLiveSession(t *testing.T) {
	reg := NewRegistry(nil, nil)
	current := time.Unix(9000, 0)
	reg.now = func() time.Time { return current }

	uc := userContext("u1")
	session := liveSession("u1")
	session.ExpiresAt = current.Add(time.Minute)
	reg.RegisterSession(uc, session)
	record, _ := reg.GenerateToken(uc, TokenOptions{})

	current = current.Add(2 * time.Minute)
	if _, err := reg.ValidateToken(record.Token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("token without live session should fail, got %v", err)
	}
}

func TestRevokeTokenOwnership(t *testing.T) {
	reg := NewRegistry(nil, nil)
	owner := userContext("owner")
	other := userContext("other")
	reg.RegisterSession(owner, liveSession("owner"))
	reg.RegisterSession(other, liveSession("other"))
	record, _ := reg.GenerateToken(owner, TokenOptions{})

	if err := reg.RevokeToken(other, record.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("cross-user revoke should fail, got %v", err)
	}
	if err := reg.RevokeToken(owner, record.Token); err != nil {
		t.Fatalf("owner revoke: %v", err)
	}
	if reg.TokenCount() != 0 {
		t.Fatal("token not removed")
	}
}

func TestCleanupTokens(t *testing.T) {
	reg := NewRegistry(nil, nil)
	current := time.Unix(9000, 0)
	reg.now = func() time.Time { return current }

	uc := userContext("u1")
	session := liveSession("u1")
	session.ExpiresAt = current.Add(24 * time.Hour)
	reg.RegisterSession(uc, session)

	reg.GenerateToken(uc, TokenOptions{TTL: time.Minute})
	reg.GenerateToken(uc, TokenOptions{TTL: time.Hour})
	reg.GenerateToken(uc, TokenOptions{}) // no expiry

	current = current.Add(30 * time.Minute)
	if removed := reg.CleanupTokens(); removed != 1 {
		t.Fatalf("expected 1 expired token removed, got %d", removed)
	}
	if reg.TokenCount() != 2 {
		t.Fatalf("TokenCount: %d", reg.TokenCount())
	}
}
