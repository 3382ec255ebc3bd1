package server

import (
	"net/http"

	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/jrsteele09/go-bff/server/authflowrepo"
)

// LoginHandler starts the authorization code flow at the provider.
func (s *Server) LoginHandler(b providers.Bound) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectURI := s.redirects.Compute(redirecturi.OriginFromRequest(r), b.Name).String()

		req, err := b.Provider.BeginAuthorization(r.Context(), redirectURI)
		if err != nil {
			s.redirectWithError(w, r, b.Name, err, "Login: failed to begin authorization")
			return
		}

		if err := s.authState.Upsert(r.Context(), req.State, &authflowrepo.AuthFlowState{
			Provider:     b.Name,
			Nonce:        req.Nonce,
			CodeVerifier: req.CodeVerifier,
			RedirectURI:  redirectURI,
		}); err != nil {
			s.redirectWithError(w, r, b.Name, err, "Login: failed to store authorization state")
			return
		}

		s.SetFlowCookie(w, r, req.State, int(s.cfg.AuthorizationTimeout.Seconds()))
		http.Redirect(w, r, req.URL, http.StatusFound)
	}
}
