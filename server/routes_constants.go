package server

import "github.com/jrsteele09/go-bff/proxy"

// Route path constants
// Provider routes are relative to the registration's endpoint prefix.
const (
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Provider endpoint routes, appended to "/{endpoint}"
	RouteLogin      = "/login"
	RouteMe         = "/me"
	RouteEndSession = "/end-session"

	// Catch-all forwarded to the proxy
	RouteProxy = "/*"
)

// ReservedRoutes returns the gateway's own endpoints so proxy routes cannot
// shadow them. /metrics is only reserved when metrics are served.
func ReservedRoutes(withMetrics bool) []proxy.Route {
	routes := []proxy.Route{{Name: "health", Prefix: RouteHealth, Source: proxy.SourceLocal}}
	if withMetrics {
		routes = append(routes, proxy.Route{Name: "metrics", Prefix: RouteMetrics, Source: proxy.SourceLocal})
	}
	return routes
}
