package server

import (
	"encoding/json"
	"net/http"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	if s.metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
	}

	for _, b := range s.providers.Providers() {
		endpoint := b.EndpointPrefix()

		s.RegisterRouteHandler("GET "+endpoint+RouteLogin, ChainMiddleware(s.LoginHandler(b), s.FrameSecurityMiddleware))
		s.RegisterRouteHandler("GET "+b.SignInCallbackPath(), ChainMiddleware(s.OAuthCallbackHandler(b), s.FrameSecurityMiddleware))
		s.RegisterRouteHandler("POST "+b.SignInCallbackPath(), ChainMiddleware(s.OAuthCallbackHandler(b), s.FrameSecurityMiddleware)) // For form_post response mode
		s.RegisterRouteHandler("GET "+endpoint+RouteMe, ChainMiddleware(s.MeHandler(b), s.NoStoreMiddleware))
		s.RegisterRouteHandler("GET "+endpoint+RouteEndSession, ChainMiddleware(s.EndSessionHandler(b), s.NoStoreMiddleware))
		s.RegisterRouteFunc("GET "+b.SignOutCallbackPath(), s.SignOutCallbackHandler())
	}

	if s.proxy != nil {
		s.RegisterRouteHandler(RouteProxy, s.proxy)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.healthCheck != nil {
			if err := s.healthCheck(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
