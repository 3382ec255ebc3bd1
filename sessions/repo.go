package sessions

import (
	"context"
	"time"
)

// Repo defines the interface for session storage operations.
// Implementations store and return whole copies of a Session so a TokenSet
// can never be observed half-replaced.
type Repo interface {
	// Save creates or replaces a session
	Save(ctx context.Context, session Session) error

	// Get retrieves a session by ID, returning errors.ErrSessionNotFound if absent
	Get(ctx context.Context, sessionID string) (Session, error)

	// Delete removes a session by ID. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions
	List(ctx context.Context) ([]string, error)
}

// HoldingRepo is implemented by repositories shared between gateway
// instances. A held record does not expire on its own, and Held lets every
// instance see holds taken by the others.
type HoldingRepo interface {
	Repo

	// Pin registers one in-flight request for the session.
	Pin(ctx context.Context, sessionID string) error

	// Unpin releases one in-flight request. When none remain, the record
	// expires again after ttl.
	Unpin(ctx context.Context, sessionID string, ttl time.Duration) error

	// Held reports whether any instance has a request in flight.
	Held(ctx context.Context, sessionID string) (bool, error)
}
