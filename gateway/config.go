package gateway

import (
	"context"

	"github.com/jrsteele09/go-bff/internal/config"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/server/authflowrepo"
	"github.com/jrsteele09/go-bff/sessions"
)

// OptionsFromConfig translates loaded configuration into Options. The caller
// may still add extension points before calling Build. A Redis store is
// connected here.
func OptionsFromConfig(ctx context.Context, c *config.Config) (*Options, error) {
	o := NewOptions()

	steps := []func() error{
		func() error { return o.SetAuthenticationErrorPage(c.Gateway.ErrorPage) },
		func() error { return o.SetLandingPage(c.Gateway.LandingPage) },
		func() error { return o.SetAlwaysRedirectToHttps(c.Gateway.AlwaysRedirectToHttps) },
		func() error { return o.SetSessionCookieName(c.Gateway.CookieName) },
		func() error { return o.SetSessionIdleTimeout(c.Gateway.IdleTimeout) },
		func() error { return o.SetRefreshTimeout(c.Gateway.RefreshTimeout) },
		func() error { return o.SetAuthorizationTimeout(c.Gateway.AuthorizationTimeout) },
		func() error { return o.SetSweepInterval(c.Gateway.SweepInterval) },
		func() error { return o.AddClusters(c.Clusters...) },
		func() error { return o.LoadRoutesFromConfig(c.Routes) },
	}
	if c.Gateway.CustomHostName != "" {
		steps = append(steps, func() error { return o.SetCustomHostName(c.Gateway.CustomHostName) })
	}
	for _, p := range c.Providers {
		steps = append(steps, func() error {
			return o.RegisterIdentityProvider(p.Name, providers.Config{
				Type:         p.Type,
				Issuer:       p.Issuer,
				ClientID:     p.ClientID,
				ClientSecret: p.Secret(),
				Scopes:       p.Scopes,
				AuthParams:   p.AuthParams,
				EndSession:   p.EndSession,
			}, p.EndpointName)
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	if c.Store.Type == config.StoreRedis {
		if err := useRedis(ctx, o, c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// useRedis keeps sessions and in-progress logins in Redis, so any instance
// can serve any request, callbacks included.
func useRedis(ctx context.Context, o *Options, c *config.Config) error {
	sealer, err := sessions.NewSealerFromBase64(c.Store.Redis.EncryptionKey)
	if err != nil {
		return err
	}
	repo, err := sessions.NewRedisRepo(ctx, sessions.RedisConfig{
		Addr:      c.Store.Redis.Addr,
		Username:  c.Store.Redis.Username,
		Password:  c.Store.Redis.Password,
		DB:        c.Store.Redis.DB,
		KeyPrefix: c.Store.Redis.KeyPrefix,
	}, sealer)
	if err != nil {
		return err
	}
	if err := o.UseSessionRepo(repo); err != nil {
		_ = repo.Close()
		return err
	}
	authFlows := authflowrepo.NewRedisRepo(repo.Client(), repo.KeyPrefix(), sealer, c.Gateway.AuthorizationTimeout)
	return o.UseAuthFlowRepo(authFlows)
}
