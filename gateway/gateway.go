package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/internal/metrics"
	"github.com/jrsteele09/go-bff/proxy"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/jrsteele09/go-bff/server"
	"github.com/jrsteele09/go-bff/server/authflowrepo"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/rs/zerolog/log"
)

// Gateway is the assembled HTTP handler plus the background work it needs.
type Gateway struct {
	server        *server.Server
	store         *sessions.Store
	repo          sessions.Repo
	authState     authflowrepo.Repo
	routes        *proxy.RouteTable
	sweepInterval time.Duration
}

type buildOptions struct {
	metrics     *metrics.Recorder
	transport   http.RoundTripper
	healthCheck func(ctx context.Context) error
}

// Option configures New.
type Option func(*buildOptions)

// WithMetrics records gateway metrics and serves them at /metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *buildOptions) {
		o.metrics = m
	}
}

// WithTransport sets the transport used to reach clusters.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *buildOptions) {
		o.transport = rt
	}
}

// WithHealthCheck replaces the default /healthz check, which pings the
// session repository when it supports it.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(o *buildOptions) {
		o.healthCheck = check
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// New materializes the identity providers and wires the session store, the
// proxy and the HTTP routes. Settings can be used once.
func New(ctx context.Context, s Settings, opts ...Option) (*Gateway, error) {
	if s.registry == nil {
		return nil, bfferrors.NewConfigurationError(CodeSettingsNotBuilt, bfferrors.ErrConfiguration, "Settings must come from Options.Build.")
	}
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}

	redirects, err := redirecturi.NewFactory(s.customHostName, s.alwaysRedirectToHttps)
	if err != nil {
		return nil, err
	}

	applied, err := s.registry.Apply(ctx)
	if err != nil {
		return nil, err
	}

	store := sessions.NewStore(s.repo,
		sessions.WithIdleTimeout(s.idleTimeout),
		sessions.WithRefreshTimeout(s.refreshTimeout),
		sessions.WithRefresher(s.registry),
		sessions.WithMetrics(o.metrics),
	)

	var engineOpts []proxy.EngineOption
	if o.transport != nil {
		engineOpts = append(engineOpts, proxy.WithTransport(o.transport))
	}
	engine, err := proxy.NewEngine(s.clusters, engineOpts...)
	if err != nil {
		return nil, err
	}

	reserved := append(applied.ReservedRoutes(), server.ReservedRoutes(o.metrics != nil)...)
	routes, err := proxy.NewRouteTable(s.clusters, reserved, s.configRoutes, s.programmaticRoutes)
	if err != nil {
		return nil, err
	}
	for _, r := range routes.Routes() {
		log.Debug().Str("route", r.Name).Str("prefix", r.Prefix).Str("cluster", r.Cluster).Str("source", r.Source.String()).Bool("auth_required", r.AuthRequired).Msg("proxy route")
	}

	injector := proxy.NewInjector(store, engine, routes, s.cookieName, proxy.WithInjectorMetrics(o.metrics))

	healthCheck := o.healthCheck
	if p, ok := s.repo.(pinger); ok && healthCheck == nil {
		healthCheck = p.Ping
	}
	serverOpts := []server.Option{server.WithHealthCheck(healthCheck)}
	if o.metrics != nil {
		serverOpts = append(serverOpts, server.WithMetrics(o.metrics))
	}

	srv := server.New(server.Config{
		CookieName:           s.cookieName,
		ErrorPage:            s.errorPage,
		LandingPage:          s.landingPage,
		Claims:               s.claims,
		Callback:             s.callback,
		AuthorizationTimeout: s.authorizationTimeout,
	}, applied, redirects, store, s.authFlows, injector, serverOpts...)

	return &Gateway{
		server:        srv,
		store:         store,
		repo:          s.repo,
		authState:     s.authFlows,
		routes:        routes,
		sweepInterval: s.sweepInterval,
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.server.ServeHTTP(w, r)
}

// Store returns the session store.
func (g *Gateway) Store() *sessions.Store {
	return g.store
}

// Routes returns the merged proxy routes, longest prefix first.
func (g *Gateway) Routes() []proxy.Route {
	return g.routes.Routes()
}

// StartSweepers evicts idle sessions and abandoned logins until ctx ends.
func (g *Gateway) StartSweepers(ctx context.Context) {
	go g.store.RunSweeper(ctx, g.sweepInterval)
	if sw, ok := g.authState.(authflowrepo.Sweeper); ok {
		go sw.RunSweeper(ctx, g.sweepInterval)
	}
}

// Close releases the session repository.
func (g *Gateway) Close() error {
	if c, ok := g.repo.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
