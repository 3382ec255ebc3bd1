package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-bff/callbacks"
	"github.com/jrsteele09/go-bff/claims"
	"github.com/jrsteele09/go-bff/gateway"
	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/pages"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/proxy"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/jrsteele09/go-bff/server/authflowrepo"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/stretchr/testify/require"
)

func requireConfigurationCode(t *testing.T, err error, code string) {
	t.Helper()
	var cfgErr *bfferrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, code, cfgErr.Code)
}

func TestOptions_Defaults(t *testing.T) {
	s, err := gateway.NewOptions().Build()
	require.NoError(t, err)

	require.Equal(t, "bff.cookie", s.CookieName())
	require.Equal(t, 20*time.Minute, s.IdleTimeout())
	require.True(t, s.AlwaysRedirectToHttps())
	require.Empty(t, s.CustomHostName())
	require.Equal(t, pages.DefaultErrorPage, s.ErrorPage())
	require.Equal(t, pages.DefaultLandingPage, s.LandingPage())
	require.Empty(t, s.Registrations())
}

func TestOptions_ValidatesImmediately(t *testing.T) {
	o := gateway.NewOptions()

	requireConfigurationCode(t, o.SetAuthenticationErrorPage("https://evil.example.com/error"), pages.CodeInvalidErrorPage)
	requireConfigurationCode(t, o.SetAuthenticationErrorPage("/error?x=1"), pages.CodeInvalidErrorPage)
	requireConfigurationCode(t, o.SetLandingPage("home"), pages.CodeInvalidLandingPage)
	requireConfigurationCode(t, o.SetCustomHostName("app.example.com?x=1"), redirecturi.CodeInvalidCustomHostName)

	require.ErrorIs(t, o.SetSessionCookieName(""), bfferrors.ErrConfiguration)
	require.ErrorIs(t, o.SetSessionIdleTimeout(0), bfferrors.ErrConfiguration)
	for _, err := range []error{
		o.SetSessionCookieName(""),
		o.SetSessionIdleTimeout(0),
		o.SetRefreshTimeout(-time.Second),
		o.SetAuthorizationTimeout(0),
		o.SetSweepInterval(0),
	} {
		requireConfigurationCode(t, err, gateway.CodeInvalidOption)
	}
	require.ErrorIs(t, o.AddClusters(proxy.Cluster{Name: "api"}), bfferrors.ErrInvalidRoute)

	require.NoError(t, o.SetAuthenticationErrorPage("/error"))
	require.NoError(t, o.SetLandingPage("/home"))
	require.NoError(t, o.SetCustomHostName("app.example.com"))

	s, err := o.Build()
	require.NoError(t, err)
	require.Equal(t, pages.ErrorPage("/error"), s.ErrorPage())
	require.Equal(t, pages.LandingPage("/home"), s.LandingPage())
	require.Equal(t, "app.example.com", s.CustomHostName())
}

func TestOptions_DuplicateProvider(t *testing.T) {
	o := gateway.NewOptions()
	cfg := providers.Config{Issuer: "https://idp.example.com", ClientID: "bff"}

	require.NoError(t, o.AddOidc("oidc", cfg, ""))
	err := o.AddOidc("oidc", cfg, "other")
	require.ErrorIs(t, err, bfferrors.ErrDuplicateProvider)
	require.True(t, bfferrors.IsConfiguration(err))

	// The default endpoint is taken by the first provider.
	require.ErrorIs(t, o.AddOidc("second", cfg, ""), bfferrors.ErrDuplicateProvider)

	s, err := o.Build()
	require.NoError(t, err)
	regs := s.Registrations()
	require.Len(t, regs, 1)
	require.Equal(t, gateway.DefaultEndpointName, regs[0].EndpointName)
}

func TestOptions_ExtensionPointsSetOnce(t *testing.T) {
	o := gateway.NewOptions()

	require.NoError(t, o.AddClaimsTransformation(claims.Default))
	require.ErrorIs(t, o.AddClaimsTransformation(claims.Default), bfferrors.ErrAlreadyConfigured)

	require.NoError(t, o.AddAuthenticationCallbackHandler(callbacks.Default))
	require.ErrorIs(t, o.AddAuthenticationCallbackHandler(callbacks.Default), bfferrors.ErrAlreadyConfigured)

	routes := func() []proxy.Route { return nil }
	require.NoError(t, o.ConfigureRoutes(routes))
	require.ErrorIs(t, o.ConfigureRoutes(routes), bfferrors.ErrAlreadyConfigured)

	require.NoError(t, o.UseSessionRepo(sessions.NewInMemoryRepo()))
	require.ErrorIs(t, o.UseSessionRepo(sessions.NewInMemoryRepo()), bfferrors.ErrAlreadyConfigured)

	require.NoError(t, o.UseAuthFlowRepo(authflowrepo.NewInMemoryRepo(0)))
	require.ErrorIs(t, o.UseAuthFlowRepo(authflowrepo.NewInMemoryRepo(0)), bfferrors.ErrAlreadyConfigured)
}

func TestOptions_SealedAfterBuild(t *testing.T) {
	o := gateway.NewOptions()
	_, err := o.Build()
	require.NoError(t, err)

	require.ErrorIs(t, o.SetLandingPage("/home"), bfferrors.ErrOptionsSealed)
	require.ErrorIs(t, o.SetSessionCookieName("x"), bfferrors.ErrOptionsSealed)
	require.ErrorIs(t, o.AddOidc("oidc", providers.Config{}, ""), bfferrors.ErrOptionsSealed)
	require.ErrorIs(t, o.AddClaimsTransformation(claims.Default), bfferrors.ErrOptionsSealed)
	require.ErrorIs(t, o.ConfigureRoutes(nil), bfferrors.ErrOptionsSealed)

	_, err = o.Build()
	require.ErrorIs(t, err, bfferrors.ErrOptionsSealed)
}

func TestNew_RequiresBuiltSettings(t *testing.T) {
	_, err := gateway.New(context.Background(), gateway.Settings{})
	require.True(t, bfferrors.IsConfiguration(err))
	requireConfigurationCode(t, err, gateway.CodeSettingsNotBuilt)
}
