package providers_test

import (
	"context"
	"errors"
	"testing"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/proxy"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	refreshed int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) BeginAuthorization(context.Context, string) (providers.AuthorizationRequest, error) {
	return providers.AuthorizationRequest{URL: "https://idp.example/authorize"}, nil
}

func (p *fakeProvider) CompleteExchange(context.Context, providers.CallbackParams) (providers.Exchange, error) {
	return providers.Exchange{}, nil
}

func (p *fakeProvider) Refresh(_ context.Context, current sessions.TokenSet) (sessions.TokenSet, error) {
	p.refreshed++
	return sessions.TokenSet{AccessToken: p.name + "-refreshed", RefreshToken: current.RefreshToken}, nil
}

type factoryFixture struct {
	built map[string]*fakeProvider
	calls int
}

func (f *factoryFixture) factory(_ context.Context, name string, _ providers.Config) (providers.Provider, error) {
	f.calls++
	p := &fakeProvider{name: name}
	f.built[name] = p
	return p, nil
}

func newRegistry(t *testing.T) (*providers.Registry, *factoryFixture) {
	t.Helper()
	f := &factoryFixture{built: map[string]*fakeProvider{}}
	return providers.NewRegistry(providers.WithFactory(providers.DefaultType, f.factory)), f
}

func TestRegistry_RegisterSealApply(t *testing.T) {
	reg, f := newRegistry(t)

	require.NoError(t, reg.Register("oidc", providers.Config{Issuer: "https://idp.example"}, "account"))
	require.NoError(t, reg.Register("partner", providers.Config{Type: "oidc"}, ""))
	reg.Seal()
	require.True(t, reg.Sealed())

	applied, err := reg.Apply(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.calls)
	require.Len(t, applied.Providers(), 2)

	b, ok := applied.Provider("oidc")
	require.True(t, ok)
	require.Equal(t, "/account", b.EndpointPrefix())
	require.Equal(t, "/oidc/signin-callback", b.SignInCallbackPath())
	require.Equal(t, "/oidc/signout-callback", b.SignOutCallbackPath())
	require.Equal(t, providers.DefaultType, b.Config.Type)

	prefixes := map[string]bool{}
	for _, r := range applied.ReservedRoutes() {
		require.Equal(t, proxy.SourceProvider, r.Source)
		prefixes[r.Prefix] = true
	}
	require.Equal(t, map[string]bool{"/account": true, "/oidc": true, "/partner": true}, prefixes)
}

func TestRegistry_DuplicateLeavesStateUnchanged(t *testing.T) {
	reg, _ := newRegistry(t)
	require.NoError(t, reg.Register("oidc", providers.Config{}, "account"))

	err := reg.Register("oidc", providers.Config{}, "other")
	require.ErrorIs(t, err, bfferrors.ErrDuplicateProvider)
	require.True(t, bfferrors.IsConfiguration(err))

	// Endpoint collides with an existing endpoint.
	err = reg.Register("second", providers.Config{}, "account")
	require.ErrorIs(t, err, bfferrors.ErrDuplicateProvider)

	// Name collides with an existing endpoint.
	err = reg.Register("account", providers.Config{}, "x")
	require.ErrorIs(t, err, bfferrors.ErrDuplicateProvider)

	require.Len(t, reg.Registrations(), 1)

	// The rejected "x" endpoint was not reserved.
	require.NoError(t, reg.Register("third", providers.Config{}, "x"))
}

func TestRegistry_InvalidNames(t *testing.T) {
	reg, _ := newRegistry(t)
	require.True(t, bfferrors.IsConfiguration(reg.Register("a/b", providers.Config{}, "")))
	require.True(t, bfferrors.IsConfiguration(reg.Register("ok", providers.Config{}, "has space")))
	require.True(t, bfferrors.IsConfiguration(reg.Register("", providers.Config{}, "")))
	require.Empty(t, reg.Registrations())
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg, _ := newRegistry(t)
	require.NoError(t, reg.Register("oidc", providers.Config{}, ""))

	_, err := reg.Apply(context.Background())
	require.ErrorIs(t, err, bfferrors.ErrRegistryNotSealed)

	reg.Seal()
	require.ErrorIs(t, reg.Register("late", providers.Config{}, ""), bfferrors.ErrRegistrySealed)

	_, err = reg.Apply(context.Background())
	require.NoError(t, err)

	_, err = reg.Apply(context.Background())
	require.ErrorIs(t, err, bfferrors.ErrRegistryAlreadyApplied)
}

func TestRegistry_UnknownType(t *testing.T) {
	reg, _ := newRegistry(t)
	require.NoError(t, reg.Register("saml", providers.Config{Type: "saml"}, ""))
	reg.Seal()

	_, err := reg.Apply(context.Background())
	require.ErrorIs(t, err, bfferrors.ErrUnknownProviderType)
	require.True(t, bfferrors.IsConfiguration(err))
}

func TestRegistry_FactoryFailure(t *testing.T) {
	boom := errors.New("discovery failed")
	reg := providers.NewRegistry(providers.WithFactory(providers.DefaultType, func(context.Context, string, providers.Config) (providers.Provider, error) {
		return nil, boom
	}))
	require.NoError(t, reg.Register("oidc", providers.Config{}, ""))
	reg.Seal()

	_, err := reg.Apply(context.Background())
	require.ErrorIs(t, err, boom)
	require.True(t, bfferrors.IsConfiguration(err))
}

func TestRegistry_RefreshTokensDispatchesByProvider(t *testing.T) {
	reg, f := newRegistry(t)
	require.NoError(t, reg.Register("a", providers.Config{}, ""))
	require.NoError(t, reg.Register("b", providers.Config{}, ""))

	_, err := reg.RefreshTokens(context.Background(), "a", sessions.TokenSet{})
	require.Error(t, err)

	reg.Seal()
	_, err = reg.Apply(context.Background())
	require.NoError(t, err)

	tokens, err := reg.RefreshTokens(context.Background(), "b", sessions.TokenSet{RefreshToken: "rt"})
	require.NoError(t, err)
	require.Equal(t, "b-refreshed", tokens.AccessToken)
	require.Equal(t, 1, f.built["b"].refreshed)
	require.Zero(t, f.built["a"].refreshed)

	_, err = reg.RefreshTokens(context.Background(), "missing", sessions.TokenSet{})
	require.ErrorIs(t, err, bfferrors.ErrNotFound)
}

func TestRegistry_ConfigIsCopied(t *testing.T) {
	reg, _ := newRegistry(t)
	scopes := []string{"openid"}
	require.NoError(t, reg.Register("oidc", providers.Config{Scopes: scopes}, ""))
	scopes[0] = "changed"

	require.Equal(t, []string{"openid"}, reg.Registrations()[0].Config.Scopes)
}
