package sessions

import (
	"context"
	"time"
)

// tokenExpiryLeeway treats access tokens about to expire as already expired,
// covering clock skew and the time spent forwarding.
const tokenExpiryLeeway = 10 * time.Second

// TokenSet is the credential bundle obtained from an identity provider.
// It is always stored and replaced as a unit.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token is unusable at now. A zero Expiry
// means the provider did not say, and the token is treated as valid.
func (t TokenSet) Expired(now time.Time) bool {
	if t.AccessToken == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Add(tokenExpiryLeeway).Before(t.Expiry)
}

// CanRefresh reports whether a refresh token is available.
func (t TokenSet) CanRefresh() bool {
	return t.RefreshToken != ""
}

// Session binds a cookie-carried identifier to the tokens of one login.
type Session struct {
	ID          string        `json:"id"`          // Opaque identifier carried in the session cookie
	Provider    string        `json:"provider"`    // Registration name of the identity provider
	CreatedAt   time.Time     `json:"created_at"`  // When the authentication callback completed
	LastAccess  time.Time     `json:"last_access"` // Slides forward on every authenticated request
	IdleTimeout time.Duration `json:"idle_timeout"`
	Tokens      TokenSet      `json:"tokens"`
}

// IdleExpired reports whether the session saw no activity for its idle timeout.
func (s Session) IdleExpired(now time.Time) bool {
	return s.IdleTimeout > 0 && now.Sub(s.LastAccess) >= s.IdleTimeout
}

// State is the lifecycle position of a session.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	default:
		return "anonymous"
	}
}

// Refresher obtains a new TokenSet from the identity provider that issued
// the current one.
type Refresher interface {
	RefreshTokens(ctx context.Context, provider string, current TokenSet) (TokenSet, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, provider string, current TokenSet) (TokenSet, error)

func (f RefresherFunc) RefreshTokens(ctx context.Context, provider string, current TokenSet) (TokenSet, error) {
	return f(ctx, provider, current)
}
