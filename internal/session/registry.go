// Package session holds the process-wide registry of authenticated users and
// their API tokens.
//
// The registry is a singleton with per-user fan-out: every mutating operation
// takes an explicit *types.UserContext. The ambient current-context pointer
// exists only for leaf-level reads.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/pkg/types"
)

var (
	// ErrNoSession reports an operation requiring a live session for a user
	// that has none registered.
	ErrNoSession = errors.New("session: no live session for user")

	// ErrNoUserContext reports a mutating operation invoked without an
	// explicit user context.
	ErrNoUserContext = errors.New("session: user context required")
)

// DestroyFunc tears down a session's external resources during removal or
// shutdown.
type DestroyFunc func(ctx context.Context, userID string, session *types.UserAuthSession) error

// Gauge receives the registered-session count after every mutation.
// Satisfied by prometheus.Gauge.
type Gauge interface {
	Set(float64)
}

// Registry maps user ids to live auth sessions and owns the API-token table.
type Registry struct {
	logger  *observability.Logger
	destroy DestroyFunc

	mu       sync.RWMutex
	sessions map[string]*types.UserAuthSession
	gauge    Gauge

	tokens *tokenTable

	// current is the ambient request context pointer, set around
	// WithUserContext. Read-only for consumers.
	current atomic.Pointer[types.UserContext]

	now func() time.Time
}

// NewRegistry creates an empty registry. destroy may be nil.
func NewRegistry(logger *observability.Logger, destroy DestroyFunc) *Registry {
	return &Registry{
		logger:   logger,
		destroy:  destroy,
		sessions: make(map[string]*types.UserAuthSession),
		tokens:   newTokenTable(),
		now:      time.Now,
	}
}

// SetGauge installs g and immediately publishes the current session count.
// Pass nil to detach.
func (r *Registry) SetGauge(g Gauge) {
	r.mu.Lock()
	r.gauge = g
	r.publishCountLocked()
	r.mu.Unlock()
}

func (r *Registry) publishCountLocked() {
	if r.gauge != nil {
		r.gauge.Set(float64(len(r.sessions)))
	}
}

// RegisterSession installs session for the user named by uc. Registering the
// same user twice replaces the previous session; the call is idempotent for
// identical sessions.
func (r *Registry) RegisterSession(uc *types.UserContext, session *types.UserAuthSession) error {
	if uc == nil || uc.UserID == "" {
		return ErrNoUserContext
	}
	if session == nil {
		return fmt.Errorf("session: nil session for user %s", uc.UserID)
	}

	r.mu.Lock()
	existing := r.sessions[uc.UserID]
	r.sessions[uc.UserID] = session
	r.publishCountLocked()
	r.mu.Unlock()

	if existing != nil && existing != session && r.logger != nil {
		r.logger.Debug(context.Background(), "session replaced", "user_id", uc.UserID)
	}
	return nil
}

// Session returns the live session for userID, if any. Expired sessions are
// reported as absent but not removed; removal stays an explicit operation.
func (r *Registry) Session(userID string) (*types.UserAuthSession, bool) {
	r.mu.RLock()
	session, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok || session.Expired(r.now()) {
		return nil, false
	}
	return session, true
}

// RemoveSession tears down and removes the user's session, revoking all of
// the user's API tokens.
func (r *Registry) RemoveSession(ctx context.Context, uc *types.UserContext) error {
	if uc == nil || uc.UserID == "" {
		return ErrNoUserContext
	}

	r.mu.Lock()
	session, ok := r.sessions[uc.UserID]
	delete(r.sessions, uc.UserID)
	r.publishCountLocked()
	r.mu.Unlock()

	r.tokens.revokeAllFor(uc.UserID)

	if !ok {
		return nil
	}
	if r.destroy != nil {
		if err := r.destroy(ctx, uc.UserID, session); err != nil {
			return fmt.Errorf("session: destroy for user %s: %w", uc.UserID, err)
		}
	}
	return nil
}

// WithUserContext sets the ambient current-context pointer to uc, runs fn,
// and restores the previous pointer even when fn fails.
func (r *Registry) WithUserContext(ctx context.Context, uc *types.UserContext, fn func(context.Context) error) error {
	if uc == nil || uc.UserID == "" {
		return ErrNoUserContext
	}
	previous := r.current.Swap(uc)
	defer r.current.Store(previous)
	return fn(observability.AddUserID(ctx, uc.UserID))
}

// CurrentContext returns the ambient context pointer, which may be nil.
// Callers must not mutate registry state based on it; mutation paths require
// an explicitly passed context.
func (r *Registry) CurrentContext() *types.UserContext {
	return r.current.Load()
}

// Len returns the number of registered sessions, expired included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown destroys every registered session concurrently. Individual
// failures are logged and collected; shutdown always empties the registry.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	draining := r.sessions
	r.sessions = make(map[string]*types.UserAuthSession)
	r.publishCountLocked()
	r.mu.Unlock()

	if r.destroy == nil || len(draining) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(draining))
	for userID, session := range draining {
		wg.Add(1)
		go func(userID string, session *types.UserAuthSession) {
			defer wg.Done()
			if err := r.destroy(ctx, userID, session); err != nil {
				if r.logger != nil {
					r.logger.Error(ctx, "session destroy failed during shutdown",
						"user_id", userID, "error", err)
				}
				errs <- fmt.Errorf("user %s: %w", userID, err)
			}
		}(userID, session)
	}
	wg.Wait()
	close(errs)

	var joined []error
	for err := range errs {
		joined = append(joined, err)
	}
	return errors.Join(joined...)
}
