// Package oidc is the default identity provider type: OpenID Connect
// authorization code flow with PKCE.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-bff/claims"
	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/sessions"
	"golang.org/x/oauth2"
)

// Type is the provider type this package registers under.
const Type = providers.DefaultType

var defaultScopes = []string{gooidc.ScopeOpenID, "profile", "email", gooidc.ScopeOfflineAccess}

var (
	_ providers.Provider           = (*Provider)(nil)
	_ providers.EndSessionProvider = (*Provider)(nil)
	_ providers.Factory            = New
)

// Provider talks to one OpenID Connect issuer.
type Provider struct {
	name               string
	cfg                providers.Config
	verifier           *gooidc.IDTokenVerifier
	oauth2Config       oauth2.Config
	endSessionEndpoint string
}

// New discovers the issuer and builds a Provider.
func New(ctx context.Context, name string, cfg providers.Config) (providers.Provider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var metadata struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	} else if !slices.Contains(scopes, gooidc.ScopeOpenID) {
		scopes = append([]string{gooidc.ScopeOpenID}, scopes...)
	}

	return &Provider{
		name: name,
		cfg:  cfg,
		verifier: provider.Verifier(&gooidc.Config{
			ClientID: cfg.ClientID,
		}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		endSessionEndpoint: metadata.EndSessionEndpoint,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

// config returns a copy of the oauth2 config bound to redirectURI.
func (p *Provider) config(redirectURI string) *oauth2.Config {
	c := p.oauth2Config
	c.RedirectURL = redirectURI
	return &c
}

// BeginAuthorization builds the authorization URL with fresh state, nonce and
// PKCE verifier.
func (p *Provider) BeginAuthorization(_ context.Context, redirectURI string) (providers.AuthorizationRequest, error) {
	state, err := randomString(32)
	if err != nil {
		return providers.AuthorizationRequest{}, err
	}
	nonce, err := randomString(32)
	if err != nil {
		return providers.AuthorizationRequest{}, err
	}
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		gooidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	}
	for k, v := range p.cfg.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return providers.AuthorizationRequest{
		URL:          p.config(redirectURI).AuthCodeURL(state, opts...),
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
	}, nil
}

// CompleteExchange redeems the authorization code and verifies the ID token.
func (p *Provider) CompleteExchange(ctx context.Context, params providers.CallbackParams) (providers.Exchange, error) {
	token, err := p.config(params.RedirectURI).Exchange(ctx, params.Code, oauth2.VerifierOption(params.CodeVerifier))
	if err != nil {
		return providers.Exchange{}, fmt.Errorf("%w: %w", bfferrors.ErrExchangeFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return providers.Exchange{}, fmt.Errorf("%w: no id_token in token response", bfferrors.ErrExchangeFailed)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return providers.Exchange{}, fmt.Errorf("%w: id token verification failed: %w", bfferrors.ErrExchangeFailed, err)
	}
	if idToken.Nonce != params.Nonce {
		return providers.Exchange{}, fmt.Errorf("%w: nonce mismatch", bfferrors.ErrExchangeFailed)
	}

	var c claims.Claims
	if err := idToken.Claims(&c); err != nil {
		return providers.Exchange{}, fmt.Errorf("%w: failed to extract claims: %w", bfferrors.ErrExchangeFailed, err)
	}

	return providers.Exchange{
		Tokens: sessions.TokenSet{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			IDToken:      rawIDToken,
			Expiry:       token.Expiry,
		},
		Claims: c,
	}, nil
}

// Refresh redeems the refresh token. A rotated ID token is verified before it
// is accepted.
func (p *Provider) Refresh(ctx context.Context, current sessions.TokenSet) (sessions.TokenSet, error) {
	if current.RefreshToken == "" {
		return sessions.TokenSet{}, bfferrors.ErrNoRefreshToken
	}

	// An empty access token forces the token source to refresh.
	token, err := p.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		return sessions.TokenSet{}, err
	}

	next := sessions.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		if _, err := p.verifier.Verify(ctx, rawIDToken); err != nil {
			return sessions.TokenSet{}, fmt.Errorf("refreshed id token verification failed: %w", err)
		}
		next.IDToken = rawIDToken
	}
	return next, nil
}

// EndSessionURL builds an RP-initiated logout URL when the registration asks
// for it and the issuer advertises an end_session_endpoint.
func (p *Provider) EndSessionURL(idTokenHint, postLogoutRedirectURI, state string) (string, bool) {
	if !p.cfg.EndSession || p.endSessionEndpoint == "" {
		return "", false
	}
	u, err := url.Parse(p.endSessionEndpoint)
	if err != nil {
		return "", false
	}

	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if state != "" {
		q.Set("state", state)
	}
	q.Set("client_id", p.cfg.ClientID)
	u.RawQuery = q.Encode()
	return u.String(), true
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
