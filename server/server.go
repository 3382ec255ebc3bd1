package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/go-bff/callbacks"
	"github.com/jrsteele09/go-bff/claims"
	"github.com/jrsteele09/go-bff/internal/metrics"
	"github.com/jrsteele09/go-bff/pages"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/jrsteele09/go-bff/server/authflowrepo"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/rs/zerolog/log"
)

// DefaultCookieName is the session cookie name unless configured otherwise.
const DefaultCookieName = "bff.cookie"

// Config holds the settings the HTTP surface needs.
type Config struct {
	CookieName  string
	ErrorPage   pages.ErrorPage
	LandingPage pages.LandingPage
	Claims      claims.Transformation // Gateway-wide; a registration may override it
	Callback    callbacks.Handler     // Gateway-wide; a registration may override it

	AuthorizationTimeout time.Duration // Lifetime of the correlation cookie
}

// Server routes browser traffic: provider endpoints are served locally and
// everything else goes to the proxy.
type Server struct {
	router    chi.Router
	routes    []string
	cfg       Config
	providers *providers.Applied
	redirects *redirecturi.Factory
	sessions  *sessions.Store
	authState authflowrepo.Repo
	proxy     http.Handler

	metrics     *metrics.Recorder
	healthCheck func(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves the recorder at /metrics and records login outcomes.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithHealthCheck adds a dependency check to /healthz.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.healthCheck = check
	}
}

// New wires the routes of every bound provider in front of proxy.
func New(cfg Config, applied *providers.Applied, redirects *redirecturi.Factory, store *sessions.Store, authState authflowrepo.Repo, proxy http.Handler, opts ...Option) *Server {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.ErrorPage == "" {
		cfg.ErrorPage = pages.DefaultErrorPage
	}
	if cfg.LandingPage == "" {
		cfg.LandingPage = pages.DefaultLandingPage
	}
	if cfg.AuthorizationTimeout <= 0 {
		cfg.AuthorizationTimeout = authflowrepo.DefaultTTL
	}
	cfg.Claims = claimsOrDefault(cfg.Claims)
	cfg.Callback = callbacks.OrDefault(cfg.Callback)

	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		providers: applied,
		redirects: redirects,
		sessions:  store,
		authState: authState,
		proxy:     proxy,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(
		middleware.RequestID,
		s.LoggingMiddleware,
		middleware.Recoverer,
	)
	s.initRoutes()
	s.logRoutes()

	return s
}

func claimsOrDefault(t claims.Transformation) claims.Transformation {
	if t == nil {
		return claims.Default
	}
	return t
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		s.router.Handle(pattern, handler)
		return
	}
	s.router.Method(method, path, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.RegisterRouteHandler(pattern, http.HandlerFunc(handler))
}

// Routes returns the registered patterns in registration order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "*", route
		}
		log.Debug().Str("method", method).Str("path", path).Msg("route registered")
	}
}
