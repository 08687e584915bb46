// Package cache provides the prefixed, TTL'd key/value store backing the
// transport's response cache, plus the gzip envelope used for large values.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is the response-cache lifetime when callers pass ttl <= 0.
const DefaultTTL = 72 * time.Hour

// Store is a concurrent key/value store with per-entry expiry.
// Writes are last-write-wins per key.
type Store interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. ttl <= 0 applies DefaultTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry for key.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is the in-process Store implementation. Expired entries are
// dropped lazily on read and swept opportunistically on write.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// now is overridable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed it.
		if current, ok := s.entries[key]; ok && s.now().After(current.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now()
	s.mu.Lock()
	s.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	if len(s.entries)%256 == 0 {
		s.sweepLocked(now)
	}
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries (expired entries may be counted
// until the next sweep).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
