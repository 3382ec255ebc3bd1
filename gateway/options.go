// Package gateway assembles the authentication gateway from its settings.
package gateway

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-bff/callbacks"
	"github.com/jrsteele09/go-bff/claims"
	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/pages"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/providers/oidc"
	"github.com/jrsteele09/go-bff/proxy"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/jrsteele09/go-bff/server"
	"github.com/jrsteele09/go-bff/server/authflowrepo"
	"github.com/jrsteele09/go-bff/sessions"
)

// DefaultEndpointName is the endpoint a provider is served under unless
// another one is given.
const DefaultEndpointName = "account"

const (
	DefaultAuthorizationTimeout = authflowrepo.DefaultTTL
	DefaultSweepInterval        = time.Minute
)

// Diagnostic codes reported for rejected options.
const (
	CodeInvalidOption    = "GNC-B-3b8e61c4d05a"
	CodeSettingsNotBuilt = "GNC-B-9a2f47e1b6c3"
)

// Options collects the gateway configuration. Every setter validates its
// input immediately. Build seals the options; setters called afterwards
// return ErrOptionsSealed.
type Options struct {
	mu       sync.Mutex
	sealed   bool
	registry *providers.Registry

	cookieName            string
	idleTimeout           time.Duration
	refreshTimeout        time.Duration
	authorizationTimeout  time.Duration
	sweepInterval         time.Duration
	alwaysRedirectToHttps bool
	customHostName        string
	errorPage             pages.ErrorPage
	landingPage           pages.LandingPage

	clusters     []proxy.Cluster
	configRoutes []proxy.Route
	routesFunc   func() []proxy.Route

	claims    claims.Transformation
	callback  callbacks.Handler
	repo      sessions.Repo
	authFlows authflowrepo.Repo
}

// NewOptions returns options with the defaults applied. The "oidc" provider
// type is always available; opts may add more.
func NewOptions(opts ...providers.RegistryOption) *Options {
	registryOpts := append([]providers.RegistryOption{providers.WithFactory(oidc.Type, oidc.New)}, opts...)
	return &Options{
		registry:              providers.NewRegistry(registryOpts...),
		cookieName:            server.DefaultCookieName,
		idleTimeout:           sessions.DefaultIdleTimeout,
		refreshTimeout:        sessions.DefaultRefreshTimeout,
		authorizationTimeout:  DefaultAuthorizationTimeout,
		sweepInterval:         DefaultSweepInterval,
		alwaysRedirectToHttps: true,
		errorPage:             pages.DefaultErrorPage,
		landingPage:           pages.DefaultLandingPage,
	}
}

// set runs fn under the lock unless the options are sealed.
func (o *Options) set(fn func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sealed {
		return bfferrors.ErrOptionsSealed
	}
	return fn()
}

// SetAuthenticationErrorPage sets where failed authentications are sent.
// The browser receives ?error=<code> on top of it.
func (o *Options) SetAuthenticationErrorPage(path string) error {
	return o.set(func() error {
		p, err := pages.ParseErrorPage(path)
		if err != nil {
			return err
		}
		o.errorPage = p
		return nil
	})
}

func (o *Options) SetLandingPage(path string) error {
	return o.set(func() error {
		p, err := pages.ParseLandingPage(path)
		if err != nil {
			return err
		}
		o.landingPage = p
		return nil
	})
}

// SetCustomHostName overrides the host used in redirect URIs, for
// deployments behind proxies that rewrite it.
func (o *Options) SetCustomHostName(hostname string) error {
	return o.set(func() error {
		if _, err := redirecturi.ParseCustomHostName(hostname); err != nil {
			return err
		}
		o.customHostName = hostname
		return nil
	})
}

func (o *Options) SetSessionCookieName(name string) error {
	return o.set(func() error {
		if name == "" {
			return bfferrors.NewConfigurationError(CodeInvalidOption, bfferrors.ErrConfiguration, "The session cookie name may not be empty.")
		}
		o.cookieName = name
		return nil
	})
}

// SetSessionIdleTimeout sets the inactivity period after which a session is
// abandoned.
func (o *Options) SetSessionIdleTimeout(d time.Duration) error {
	return o.set(func() error {
		if d <= 0 {
			return bfferrors.NewConfigurationError(CodeInvalidOption, bfferrors.ErrConfiguration, "The session idle timeout must be positive.")
		}
		o.idleTimeout = d
		return nil
	})
}

func (o *Options) SetRefreshTimeout(d time.Duration) error {
	return o.set(func() error {
		if d <= 0 {
			return bfferrors.NewConfigurationError(CodeInvalidOption, bfferrors.ErrConfiguration, "The refresh timeout must be positive.")
		}
		o.refreshTimeout = d
		return nil
	})
}

// SetAuthorizationTimeout bounds how long a login may take between the
// redirect to the provider and the callback.
func (o *Options) SetAuthorizationTimeout(d time.Duration) error {
	return o.set(func() error {
		if d <= 0 {
			return bfferrors.NewConfigurationError(CodeInvalidOption, bfferrors.ErrConfiguration, "The authorization timeout must be positive.")
		}
		o.authorizationTimeout = d
		return nil
	})
}

func (o *Options) SetSweepInterval(d time.Duration) error {
	return o.set(func() error {
		if d <= 0 {
			return bfferrors.NewConfigurationError(CodeInvalidOption, bfferrors.ErrConfiguration, "The sweep interval must be positive.")
		}
		o.sweepInterval = d
		return nil
	})
}

// SetAlwaysRedirectToHttps forces https redirect URIs when TLS terminates in
// front of the gateway.
func (o *Options) SetAlwaysRedirectToHttps(always bool) error {
	return o.set(func() error {
		o.alwaysRedirectToHttps = always
		return nil
	})
}

// RegisterIdentityProvider adds a provider served under /{endpointName}.
// endpointName defaults to DefaultEndpointName.
func (o *Options) RegisterIdentityProvider(name string, cfg providers.Config, endpointName string, opts ...providers.RegistrationOption) error {
	return o.set(func() error {
		if endpointName == "" {
			endpointName = DefaultEndpointName
		}
		return o.registry.Register(name, cfg, endpointName, opts...)
	})
}

// AddOidc registers an OpenID Connect provider.
func (o *Options) AddOidc(name string, cfg providers.Config, endpointName string, opts ...providers.RegistrationOption) error {
	cfg.Type = oidc.Type
	return o.RegisterIdentityProvider(name, cfg, endpointName, opts...)
}

// AddClusters declares backends routes can forward to.
func (o *Options) AddClusters(clusters ...proxy.Cluster) error {
	return o.set(func() error {
		for _, c := range clusters {
			if c.Name == "" || len(c.Destinations) == 0 {
				return bfferrors.NewConfigurationError(proxy.CodeInvalidRoute, bfferrors.ErrInvalidRoute, "Cluster %q needs a name and a destination.", c.Name)
			}
			for _, existing := range o.clusters {
				if existing.Name == c.Name {
					return bfferrors.NewConfigurationError(proxy.CodeInvalidRoute, bfferrors.ErrInvalidRoute, "Cluster %q is declared twice.", c.Name)
				}
			}
			o.clusters = append(o.clusters, c)
		}
		return nil
	})
}

// LoadRoutesFromConfig adds routes read from a configuration file.
func (o *Options) LoadRoutesFromConfig(routes []proxy.Route) error {
	return o.set(func() error {
		for _, r := range routes {
			r.Source = proxy.SourceConfig
			o.configRoutes = append(o.configRoutes, r)
		}
		return nil
	})
}

// ConfigureRoutes supplies routes in code. They are merged after the routes
// from configuration and replace those with the same name.
func (o *Options) ConfigureRoutes(fn func() []proxy.Route) error {
	return o.set(func() error {
		if o.routesFunc != nil {
			return bfferrors.ErrAlreadyConfigured
		}
		o.routesFunc = fn
		return nil
	})
}

// AddClaimsTransformation replaces the default pass-through of the /me
// endpoint for every provider without its own transformation.
func (o *Options) AddClaimsTransformation(t claims.Transformation) error {
	return o.set(func() error {
		if o.claims != nil {
			return bfferrors.ErrAlreadyConfigured
		}
		o.claims = t
		return nil
	})
}

// AddAuthenticationCallbackHandler runs h after every successful code
// exchange. An error from h aborts the login.
func (o *Options) AddAuthenticationCallbackHandler(h callbacks.Handler) error {
	return o.set(func() error {
		if o.callback != nil {
			return bfferrors.ErrAlreadyConfigured
		}
		o.callback = h
		return nil
	})
}

// UseSessionRepo stores sessions in repo instead of memory.
func (o *Options) UseSessionRepo(repo sessions.Repo) error {
	return o.set(func() error {
		if o.repo != nil {
			return bfferrors.ErrAlreadyConfigured
		}
		o.repo = repo
		return nil
	})
}

// UseAuthFlowRepo keeps in-progress logins in repo instead of memory. Use a
// shared repo when the callback may reach another instance than the login.
func (o *Options) UseAuthFlowRepo(repo authflowrepo.Repo) error {
	return o.set(func() error {
		if o.authFlows != nil {
			return bfferrors.ErrAlreadyConfigured
		}
		o.authFlows = repo
		return nil
	})
}

// Build seals the options and the provider registry and returns the
// resulting settings. It may be called once.
func (o *Options) Build() (Settings, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sealed {
		return Settings{}, bfferrors.ErrOptionsSealed
	}
	o.sealed = true
	o.registry.Seal()

	var programmatic []proxy.Route
	if o.routesFunc != nil {
		for _, r := range o.routesFunc() {
			r.Source = proxy.SourceProgrammatic
			programmatic = append(programmatic, r)
		}
	}

	repo := o.repo
	if repo == nil {
		repo = sessions.NewInMemoryRepo()
	}
	authFlows := o.authFlows
	if authFlows == nil {
		authFlows = authflowrepo.NewInMemoryRepo(o.authorizationTimeout)
	}

	return Settings{
		registry:              o.registry,
		cookieName:            o.cookieName,
		idleTimeout:           o.idleTimeout,
		refreshTimeout:        o.refreshTimeout,
		authorizationTimeout:  o.authorizationTimeout,
		sweepInterval:         o.sweepInterval,
		alwaysRedirectToHttps: o.alwaysRedirectToHttps,
		customHostName:        o.customHostName,
		errorPage:             o.errorPage,
		landingPage:           o.landingPage,
		clusters:              append([]proxy.Cluster(nil), o.clusters...),
		configRoutes:          append([]proxy.Route(nil), o.configRoutes...),
		programmaticRoutes:    programmatic,
		claims:                o.claims,
		callback:              o.callback,
		repo:                  repo,
		authFlows:             authFlows,
	}, nil
}

// Settings is the sealed result of Options.Build.
type Settings struct {
	registry *providers.Registry

	cookieName            string
	idleTimeout           time.Duration
	refreshTimeout        time.Duration
	authorizationTimeout  time.Duration
	sweepInterval         time.Duration
	alwaysRedirectToHttps bool
	customHostName        string
	errorPage             pages.ErrorPage
	landingPage           pages.LandingPage

	clusters           []proxy.Cluster
	configRoutes       []proxy.Route
	programmaticRoutes []proxy.Route

	claims    claims.Transformation
	callback  callbacks.Handler
	repo      sessions.Repo
	authFlows authflowrepo.Repo
}

func (s Settings) CookieName() string { return s.cookieName }

func (s Settings) IdleTimeout() time.Duration { return s.idleTimeout }

func (s Settings) AlwaysRedirectToHttps() bool { return s.alwaysRedirectToHttps }

func (s Settings) CustomHostName() string { return s.customHostName }

func (s Settings) ErrorPage() pages.ErrorPage { return s.errorPage }

func (s Settings) LandingPage() pages.LandingPage { return s.landingPage }

// Registrations returns the sealed provider registrations.
func (s Settings) Registrations() []providers.Registration {
	if s.registry == nil {
		return nil
	}
	return s.registry.Registrations()
}
