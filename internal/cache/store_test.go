package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Fatal("empty store should miss")
	}

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(value) != "v" {
		t.Fatalf("got %q", value)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("deleted key should miss")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	current = current.Add(59 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}

	current = current.Add(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("entry should have expired")
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry should be purged on read, have %d", store.Len())
	}
}

func TestMemoryStoreDefaultTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	current = current.Add(DefaultTTL - time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("entry should survive until the default TTL")
	}
	current = current.Add(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("entry should expire after the default TTL")
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Fatal("Set with cancelled context should fail")
	}
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatal("Get with cancelled context should fail")
	}
}
