package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/beyondbetter/bb-core/pkg/types"
)

func userContext(id string) *types.UserContext {
	return &types.UserContext{UserID: id, User: types.AuthUser{ID: id, Email: id + "@example.com"}}
}

func liveSession(id string) *types.UserAuthSession {
	return &types.UserAuthSession{
		User:        types.AuthUser{ID: id},
		AccessToken: "access-" + id,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestRegisterAndLookupSession(t *testing.T) {
	reg := NewRegistry(nil, nil)

	if err := reg.RegisterSession(nil, liveSession("u1")); !errors.Is(err, ErrNoUserContext) {
		t.Fatalf("nil context: %v", err)
	}
	if err := reg.RegisterSession(userContext("u1"), nil); err == nil {
		t.Fatal("nil session should be rejected")
	}

	if err := reg.RegisterSession(userContext("u1"), liveSession("u1")); err != nil {
		t.Fatalf("RegisterSession: %v", err)
	}
	if _, ok := reg.Session("u1"); !ok {
		t.Fatal("registered session not found")
	}
	if _, ok := reg.Session("u2"); ok {
		t.Fatal("unknown user should have no session")
	}
	if reg.Len() != 1 {
		t.Fatalf("Len: %d", reg.Len())
	}
}

func TestExpiredSessionHidden(t *testing.T) {
	reg := NewRegistry(nil, nil)
	current := time.Unix(5000, 0)
	reg.now = func() time.Time { return current }

	session := liveSession("u1")
	session.ExpiresAt = current.Add(time.Minute)
	reg.RegisterSession(userContext("u1"), session)

	if _, ok := reg.Session("u1"); !ok {
		t.Fatal("session should be live before expiry")
	}
	current = current.Add(2 * time.Minute)
	if _, ok := reg.Session("u1"); ok {
		t.Fatal("expired session should be hidden")
	}
	// Removal stays explicit: the entry itself remains.
	if reg.Len() != 1 {
		t.Fatalf("expired session should not be auto-removed, Len=%d", reg.Len())
	}
}

func TestRemoveSessionRevokesTokensAndDestroys(t *testing.T) {
	var destroyed []string
	reg := NewRegistry(nil, func(ctx context.Context, userID string, _ *types.UserAuthSession) error {
		destroyed = append(destroyed, userID)
		return nil
	})

	uc := userContext("u1")
	reg.RegisterSession(uc, liveSession("u1"))
	if _, err := reg.GenerateToken(uc, TokenOptions{}); err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if reg.TokenCount() != 1 {
		t.Fatalf("TokenCount: %d", reg.TokenCount())
	}

	if err := reg.RemoveSession(context.Background(), uc); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("session not removed")
	}
	if reg.TokenCount() != 0 {
		t.Fatal("tokens should be revoked with the session")
	}
	if len(destroyed) != 1 || destroyed[0] != "u1" {
		t.Fatalf("destroy hook: %v", destroyed)
	}
}

type recordingGauge struct {
	value float64
}

func (g *recordingGauge) Set(v float64) { g.value = v }

func TestGaugeTracksSessionCount(t *testing.T) {
	reg := NewRegistry(nil, nil)
	gauge := &recordingGauge{value: -1}

	reg.SetGauge(gauge)
	if gauge.value != 0 {
		t.Fatalf("initial publish: %v", gauge.value)
	}

	reg.RegisterSession(userContext("u1"), liveSession("u1"))
	reg.RegisterSession(userContext("u2"), liveSession("u2"))
	if gauge.value != 2 {
		t.Fatalf("after registers: %v", gauge.value)
	}

	// Replacing a session is not a count change.
	reg.RegisterSession(userContext("u1"), liveSession("u1"))
	if gauge.value != 2 {
		t.Fatalf("after replace: %v", gauge.value)
	}

	reg.RemoveSession(context.Background(), userContext("u1"))
	if gauge.value != 1 {
		t.Fatalf("after remove: %v", gauge.value)
	}

	if err := reg.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if gauge.value != 0 {
		t.Fatalf("after shutdown: %v", gauge.value)
	}
}

func TestWithUserContextRestoresPrevious(t *testing.T) {
	reg := NewRegistry(nil, nil)
	outer := userContext("outer")
	inner := userContext("inner")

	err := reg.WithUserContext(context.Background(), outer, func(ctx context.Context) error {
		if got := reg.CurrentContext(); got != outer {
			t.Errorf("outer context not current: %v", got)
		}
		return reg.WithUserContext(ctx, inner, func(context.Context) error {
			if got := reg.CurrentContext(); got != inner {
				t.Errorf("inner context not current: %v", got)
			}
			return errors.New("inner failure")
		})
	})
	if err == nil || err.Error() != "inner failure" {
		t.Fatalf("error not propagated: %v", err)
	}
	if reg.CurrentContext() != nil {
		t.Fatal("ambient context should be cleared after the outer call")
	}
}

func TestShutdownDrainsAllSessions(t *testing.T) {
	var mu sync.Mutex
	destroyed := map[string]bool{}
	reg := NewRegistry(nil, func(ctx context.Context, userID string, _ *types.UserAuthSession) error {
		mu.Lock()
		destroyed[userID] = true
		mu.Unlock()
		if userID == "u2" {
			return fmt.Errorf("backend unreachable")
		}
		return nil
	})

	for _, id := range []string{"u1", "u2", "u3"} {
		reg.RegisterSession(userContext(id), liveSession(id))
	}

	err := reg.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected the u2 failure to surface")
	}
	if reg.Len() != 0 {
		t.Fatal("shutdown must empty the registry even on errors")
	}
	if len(destroyed) != 3 {
		t.Fatalf("all sessions should be destroyed, got %v", destroyed)
	}
}
