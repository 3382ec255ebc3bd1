// Package providers holds the identity provider registrations and turns them
// into live providers and reserved routes at startup.
package providers

import (
	"context"

	"github.com/jrsteele09/go-bff/claims"
	"github.com/jrsteele09/go-bff/sessions"
)

// DefaultType is used when a provider configuration names no type.
const DefaultType = "oidc"

// Config describes how to reach one identity provider.
type Config struct {
	Type         string            `mapstructure:"type" json:"type"`
	Issuer       string            `mapstructure:"issuer" json:"issuer"`
	ClientID     string            `mapstructure:"client_id" json:"client_id"`
	ClientSecret string            `mapstructure:"client_secret" json:"-"`
	Scopes       []string          `mapstructure:"scopes" json:"scopes"`
	AuthParams   map[string]string `mapstructure:"auth_params" json:"auth_params,omitempty"` // Extra authorization request parameters
	EndSession   bool              `mapstructure:"end_session" json:"end_session"`           // Also sign out at the provider
}

func (c Config) clone() Config {
	c.Scopes = append([]string(nil), c.Scopes...)
	if c.AuthParams != nil {
		params := make(map[string]string, len(c.AuthParams))
		for k, v := range c.AuthParams {
			params[k] = v
		}
		c.AuthParams = params
	}
	if c.Type == "" {
		c.Type = DefaultType
	}
	return c
}

// AuthorizationRequest is where to send the browser, plus the correlation
// values that must come back on the callback.
type AuthorizationRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
}

// CallbackParams carries the authorization response together with the
// correlation values stored when the flow began.
type CallbackParams struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
	Nonce        string
}

// Exchange is the result of a successful code exchange.
type Exchange struct {
	Tokens sessions.TokenSet
	Claims claims.Claims // Verified ID token claims
}

// Provider is a materialized identity provider.
type Provider interface {
	Name() string
	BeginAuthorization(ctx context.Context, redirectURI string) (AuthorizationRequest, error)
	CompleteExchange(ctx context.Context, params CallbackParams) (Exchange, error)
	Refresh(ctx context.Context, current sessions.TokenSet) (sessions.TokenSet, error)
}

// EndSessionProvider is implemented by providers supporting RP-initiated logout.
type EndSessionProvider interface {
	EndSessionURL(idTokenHint, postLogoutRedirectURI, state string) (string, bool)
}

// Factory creates a Provider for a registration. Factories are looked up by
// Config.Type.
type Factory func(ctx context.Context, name string, cfg Config) (Provider, error)
