package proxy

import (
	"net/url"
	"path"
	"sort"
	"strings"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
)

// CodeInvalidRoute is the diagnostic code reported for rejected proxy routes.
const CodeInvalidRoute = "GNC-B-7d1c2f0e9a4b"

// Source records where a route was declared. Sources are merged in
// declaration order.
type Source int

const (
	SourceProvider     Source = iota // Reserved identity provider endpoint, served locally
	SourceConfig                     // Configuration file
	SourceProgrammatic               // Routes added in code
	SourceLocal                      // Gateway endpoint such as the health check
)

func (s Source) String() string {
	switch s {
	case SourceProvider:
		return "provider"
	case SourceConfig:
		return "config"
	case SourceProgrammatic:
		return "programmatic"
	case SourceLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Route maps a path prefix onto a cluster.
type Route struct {
	Name         string `mapstructure:"name" json:"name"`
	Prefix       string `mapstructure:"prefix" json:"prefix"`
	Cluster      string `mapstructure:"cluster" json:"cluster"`
	AuthRequired bool   `mapstructure:"auth_required" json:"auth_required"`
	StripPrefix  bool   `mapstructure:"strip_prefix" json:"strip_prefix"`
	Source       Source `mapstructure:"-" json:"-"`
}

// Local reports whether the route is served by the gateway itself.
func (r Route) Local() bool {
	return r.Source == SourceProvider || r.Source == SourceLocal
}

// Matches reports whether p falls under the route prefix on a segment boundary.
func (r Route) Matches(p string) bool {
	return underPrefix(p, r.Prefix)
}

// UpstreamPath is the path sent to the cluster for a request path p.
func (r Route) UpstreamPath(p string) string {
	if !r.StripPrefix || r.Prefix == "/" {
		return p
	}
	trimmed := strings.TrimPrefix(p, r.Prefix)
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}

func underPrefix(p, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// Cluster is a named backend. Requests go to the first destination.
type Cluster struct {
	Name         string   `mapstructure:"name" json:"name"`
	Destinations []string `mapstructure:"destinations" json:"destinations"`
}

// RouteTable resolves request paths to routes by longest prefix.
// It is immutable once built.
type RouteTable struct {
	routes []Route
}

// NewRouteTable merges reserved routes with custom route sources. Reserved
// routes are provider endpoints unless marked SourceLocal.
// Custom sources are applied in order; a later route replaces an earlier
// custom route of the same name. Custom prefixes may not equal or fall under
// a reserved prefix, and every custom route must name a known cluster.
func NewRouteTable(clusters []Cluster, reserved []Route, sources ...[]Route) (*RouteTable, error) {
	known := make(map[string]struct{}, len(clusters))
	for _, c := range clusters {
		known[c.Name] = struct{}{}
	}

	routes := make([]Route, 0, len(reserved))
	for _, r := range reserved {
		if r.Source != SourceLocal {
			r.Source = SourceProvider
		}
		routes = append(routes, r)
	}
	reserved = routes[:len(reserved):len(reserved)]

	var custom []Route
	byName := map[string]int{}
	for _, source := range sources {
		for _, r := range source {
			prefix, err := normalizePrefix(r.Prefix)
			if err != nil {
				return nil, routeError(r.Name, err)
			}
			r.Prefix = prefix
			if r.Local() {
				r.Source = SourceConfig
			}

			if r.Name == "" {
				return nil, routeError(r.Prefix, bfferrors.New("route name is required"))
			}
			if _, ok := known[r.Cluster]; !ok {
				return nil, routeError(r.Name, bfferrors.Wrapf(bfferrors.ErrUnknownCluster, "cluster %q", r.Cluster))
			}
			for _, res := range reserved {
				if underPrefix(r.Prefix, res.Prefix) {
					return nil, routeError(r.Name, bfferrors.New("prefix "+r.Prefix+" is reserved for "+reservedFor(res)))
				}
			}

			if i, ok := byName[r.Name]; ok {
				custom[i] = r
				continue
			}
			byName[r.Name] = len(custom)
			custom = append(custom, r)
		}
	}

	prefixes := map[string]string{}
	for _, r := range custom {
		if other, ok := prefixes[r.Prefix]; ok {
			return nil, routeError(r.Name, bfferrors.New("prefix "+r.Prefix+" is already used by route "+other))
		}
		prefixes[r.Prefix] = r.Name
	}
	routes = append(routes, custom...)

	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})
	return &RouteTable{routes: routes}, nil
}

func reservedFor(r Route) string {
	if r.Source == SourceLocal {
		return "gateway endpoint " + r.Name
	}
	return "identity provider " + r.Name
}

func normalizePrefix(prefix string) (string, error) {
	if prefix == "" || !strings.HasPrefix(prefix, "/") || strings.HasPrefix(prefix, "//") {
		return "", bfferrors.New("prefix must be an absolute path")
	}
	u, err := url.Parse(prefix)
	if err != nil || u.RawQuery != "" || u.Fragment != "" || u.Host != "" {
		return "", bfferrors.New("prefix must be a plain path")
	}
	return path.Clean(prefix), nil
}

func routeError(name string, err error) error {
	return bfferrors.NewConfigurationError(CodeInvalidRoute, bfferrors.Join(bfferrors.ErrInvalidRoute, err), "Invalid proxy route %q: %v", name, err)
}

// Match returns the route with the longest prefix covering p.
func (t *RouteTable) Match(p string) (Route, bool) {
	for _, r := range t.routes {
		if r.Matches(p) {
			return r, true
		}
	}
	return Route{}, false
}

// Routes returns the merged routes, longest prefix first.
func (t *RouteTable) Routes() []Route {
	return append([]Route(nil), t.routes...)
}
