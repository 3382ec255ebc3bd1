package providers

import (
	"context"
	"regexp"
	"sync"

	"github.com/jrsteele09/go-bff/callbacks"
	"github.com/jrsteele09/go-bff/claims"
	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/proxy"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/rs/zerolog/log"
)

// CodeInvalidProvider is the diagnostic code for rejected registrations.
const CodeInvalidProvider = "GNC-B-5e0c3a91d7f2"

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._~-]*$`)

var _ sessions.Refresher = (*Registry)(nil)

// Registration is one identity provider as declared at startup.
type Registration struct {
	Name         string
	EndpointName string
	Config       Config

	Claims   claims.Transformation // Overrides the gateway-wide transformation when set
	Callback callbacks.Handler     // Overrides the gateway-wide handler when set
}

// EndpointPrefix is the path prefix of the login, identity and sign-out endpoints.
func (r Registration) EndpointPrefix() string {
	return "/" + r.EndpointName
}

// SignInCallbackPath is the redirect_uri path registered at the provider.
func (r Registration) SignInCallbackPath() string {
	return redirecturi.CallbackPath(r.Name, redirecturi.SignInCallbackSuffix)
}

// SignOutCallbackPath is the post_logout_redirect_uri path.
func (r Registration) SignOutCallbackPath() string {
	return redirecturi.CallbackPath(r.Name, redirecturi.SignOutCallbackSuffix)
}

// RegistrationOption customises a single registration.
type RegistrationOption func(*Registration)

// WithClaimsTransformation sets a per-provider claims transformation.
func WithClaimsTransformation(t claims.Transformation) RegistrationOption {
	return func(r *Registration) {
		r.Claims = t
	}
}

// WithCallbackHandler sets a per-provider authentication callback handler.
func WithCallbackHandler(h callbacks.Handler) RegistrationOption {
	return func(r *Registration) {
		r.Callback = h
	}
}

// Registry collects registrations, then materializes them exactly once.
type Registry struct {
	mu            sync.Mutex
	factories     map[string]Factory
	registrations []Registration
	prefixes      map[string]string // reserved prefix -> registration name
	sealed        bool
	applied       *Applied
	applyCalled   bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory makes a provider type available to registrations.
func WithFactory(providerType string, f Factory) RegistryOption {
	return func(r *Registry) {
		r.factories[providerType] = f
	}
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: map[string]Factory{},
		prefixes:  map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an identity provider. endpointName defaults to name. The
// registry is left unchanged when an error is returned.
func (r *Registry) Register(name string, cfg Config, endpointName string, opts ...RegistrationOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return bfferrors.ErrRegistrySealed
	}
	if endpointName == "" {
		endpointName = name
	}
	if !segmentPattern.MatchString(name) {
		return invalidProvider(bfferrors.ErrConfiguration, "Provider name %q must be a single path segment.", name)
	}
	if !segmentPattern.MatchString(endpointName) {
		return invalidProvider(bfferrors.ErrConfiguration, "Endpoint name %q must be a single path segment.", endpointName)
	}

	reg := Registration{Name: name, EndpointName: endpointName, Config: cfg.clone()}
	for _, opt := range opts {
		opt(&reg)
	}

	for _, existing := range r.registrations {
		if existing.Name == name {
			return invalidProvider(bfferrors.ErrDuplicateProvider, "An identity provider named %q is already registered.", name)
		}
	}
	for _, prefix := range reservedPrefixes(reg) {
		if owner, taken := r.prefixes[prefix]; taken {
			return invalidProvider(bfferrors.ErrDuplicateProvider, "Path %q is already used by identity provider %q.", prefix, owner)
		}
	}

	for _, prefix := range reservedPrefixes(reg) {
		r.prefixes[prefix] = name
	}
	r.registrations = append(r.registrations, reg)
	return nil
}

func reservedPrefixes(reg Registration) []string {
	if reg.EndpointName == reg.Name {
		return []string{"/" + reg.Name}
	}
	return []string{"/" + reg.EndpointName, "/" + reg.Name}
}

func invalidProvider(err error, format string, args ...interface{}) error {
	return bfferrors.NewConfigurationError(CodeInvalidProvider, err, format, args...)
}

// Seal finalizes the registry. Further registrations fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Registrations returns a copy of the registrations in declaration order.
func (r *Registry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Registration(nil), r.registrations...)
}

// Apply materializes every registration through its type's factory. It may
// be called once, after Seal.
func (r *Registry) Apply(ctx context.Context) (*Applied, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sealed {
		return nil, bfferrors.ErrRegistryNotSealed
	}
	if r.applyCalled {
		return nil, bfferrors.ErrRegistryAlreadyApplied
	}
	r.applyCalled = true

	applied := &Applied{byName: make(map[string]int, len(r.registrations))}
	for _, reg := range r.registrations {
		factory, ok := r.factories[reg.Config.Type]
		if !ok {
			return nil, invalidProvider(bfferrors.ErrUnknownProviderType, "Identity provider %q has unknown type %q.", reg.Name, reg.Config.Type)
		}
		p, err := factory(ctx, reg.Name, reg.Config.clone())
		if err != nil {
			return nil, invalidProvider(err, "Identity provider %q could not be initialized: %v", reg.Name, err)
		}
		applied.byName[reg.Name] = len(applied.bound)
		applied.bound = append(applied.bound, Bound{Registration: reg, Provider: p})
		log.Info().Str("provider", reg.Name).Str("type", reg.Config.Type).Str("endpoint", reg.EndpointPrefix()).Msg("identity provider registered")
	}

	r.applied = applied
	return applied, nil
}

// RefreshTokens dispatches a refresh to the provider that issued the tokens.
func (r *Registry) RefreshTokens(ctx context.Context, provider string, current sessions.TokenSet) (sessions.TokenSet, error) {
	r.mu.Lock()
	applied := r.applied
	r.mu.Unlock()

	if applied == nil {
		return sessions.TokenSet{}, bfferrors.ErrRegistryNotSealed
	}
	b, ok := applied.Provider(provider)
	if !ok {
		return sessions.TokenSet{}, bfferrors.Wrapf(bfferrors.ErrNotFound, "identity provider %q", provider)
	}
	return b.Provider.Refresh(ctx, current)
}

// Bound pairs a registration with its materialized provider.
type Bound struct {
	Registration
	Provider Provider
}

// Applied is the immutable result of Registry.Apply.
type Applied struct {
	bound  []Bound
	byName map[string]int
}

// Providers returns the bound providers in declaration order.
func (a *Applied) Providers() []Bound {
	return append([]Bound(nil), a.bound...)
}

// Provider looks up a bound provider by registration name.
func (a *Applied) Provider(name string) (Bound, bool) {
	i, ok := a.byName[name]
	if !ok {
		return Bound{}, false
	}
	return a.bound[i], true
}

// ReservedRoutes returns the locally served route prefixes of every provider.
func (a *Applied) ReservedRoutes() []proxy.Route {
	var routes []proxy.Route
	for _, b := range a.bound {
		for _, prefix := range reservedPrefixes(b.Registration) {
			routes = append(routes, proxy.Route{Name: b.Name, Prefix: prefix, Source: proxy.SourceProvider})
		}
	}
	return routes
}
