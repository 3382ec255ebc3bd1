package sessions

import (
	"context"
	"sync"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface.
// Reads take no exclusive lock.
type InMemoryRepo struct {
	sessions sync.Map // sessionID -> Session
}

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

// Save stores a copy of the session
func (r *InMemoryRepo) Save(_ context.Context, session Session) error {
	if session.ID == "" {
		return bfferrors.New("sessionID is required")
	}
	r.sessions.Store(session.ID, session)
	return nil
}

// Get retrieves a copy of the session
func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (Session, error) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return Session{}, bfferrors.ErrSessionNotFound
	}
	return v.(Session), nil
}

// Delete removes a session
func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	r.sessions.Delete(sessionID)
	return nil
}

// List returns all stored session IDs
func (r *InMemoryRepo) List(_ context.Context) ([]string, error) {
	var ids []string
	r.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids, nil
}
