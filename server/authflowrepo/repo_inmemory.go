package authflowrepo

import (
	"context"
	"errors"
	"sync"
	"time"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/rs/zerolog/log"
)

var (
	_ Repo    = (*InMemoryRepo)(nil)
	_ Sweeper = (*InMemoryRepo)(nil)
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*AuthFlowState
	ttl    time.Duration
	now    func() time.Time
}

// NewInMemoryRepo creates a new in-memory auth flow state repository
func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryRepo{
		states: make(map[string]*AuthFlowState),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (r *InMemoryRepo) WithClock(now func() time.Time) *InMemoryRepo {
	r.now = now
	return r
}

// Upsert stores or updates an auth flow state
func (r *InMemoryRepo) Upsert(_ context.Context, state string, authState *AuthFlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Create a copy to prevent external modifications
	stored := *authState
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	r.states[state] = &stored
	return nil
}

// Consume retrieves an auth flow state and removes it
func (r *InMemoryRepo) Consume(_ context.Context, state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, bfferrors.ErrInvalidState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	authState, exists := r.states[state]
	if !exists {
		return nil, bfferrors.ErrInvalidState
	}
	delete(r.states, state)

	if r.expired(authState) {
		return nil, bfferrors.Wrapf(bfferrors.ErrInvalidState, "authorization flow expired")
	}

	// Return a copy to prevent external modifications
	out := *authState
	return &out, nil
}

// Delete removes an auth flow state
func (r *InMemoryRepo) Delete(_ context.Context, state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

func (r *InMemoryRepo) expired(s *AuthFlowState) bool {
	return r.now().Sub(s.CreatedAt) >= r.ttl
}

// Sweep removes expired auth flow states
func (r *InMemoryRepo) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for state, s := range r.states {
		if r.expired(s) {
			delete(r.states, state)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *InMemoryRepo) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("dropped abandoned authorization flows")
			}
		case <-ctx.Done():
			return
		}
	}
}
