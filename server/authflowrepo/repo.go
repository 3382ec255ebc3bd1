// Package authflowrepo keeps the correlation state of authorization
// redirects that are in progress.
package authflowrepo

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a user may take at the identity provider.
const DefaultTTL = 10 * time.Minute

// AuthFlowState is created when a login begins and consumed by the callback.
type AuthFlowState struct {
	Provider     string    `json:"provider"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repo stores AuthFlowState keyed by the OAuth state parameter.
type Repo interface {
	Upsert(ctx context.Context, state string, authState *AuthFlowState) error
	// Consume returns the state and removes it, so each state is accepted once.
	Consume(ctx context.Context, state string) (*AuthFlowState, error)
	Delete(ctx context.Context, state string) error
}

// Sweeper is implemented by repos that must drop abandoned states themselves.
type Sweeper interface {
	// Sweep drops states older than the TTL and returns how many were dropped.
	Sweep() int
	RunSweeper(ctx context.Context, interval time.Duration)
}
