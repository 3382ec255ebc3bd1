package server

import (
	"net/http"

	"github.com/jrsteele09/go-bff/claims"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/rs/zerolog/log"
)

// MeHandler returns the transformed ID token claims of the current session.
func (s *Server) MeHandler(b providers.Bound) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.sessions.Session(r.Context(), s.sessionID(r))
		if !ok || session.Provider != b.Name {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		transformation := s.cfg.Claims
		if b.Claims != nil {
			transformation = b.Claims
		}

		out, err := claims.NewPipeline(transformation).Run(r.Context(), session.Tokens.IDToken)
		if err != nil {
			s.redirectWithError(w, r, b.Name, err, "Me: claims transformation failed")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// EndSessionHandler destroys the session, then signs out at the provider when
// it supports RP-initiated logout, or goes straight to the landing page.
func (s *Server) EndSessionHandler(b providers.Bound) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := s.sessionID(r)

		var idToken string
		if session, ok := s.sessions.Session(ctx, sessionID); ok && session.Provider == b.Name {
			idToken = session.Tokens.IDToken
		}
		if err := s.sessions.SignOut(ctx, sessionID); err != nil {
			log.Err(err).Msg("Logout: failed to delete session")
		}
		s.ClearSessionCookie(w, r)

		if esp, ok := b.Provider.(providers.EndSessionProvider); ok && idToken != "" {
			postLogout := s.redirects.ComputeSignOut(redirecturi.OriginFromRequest(r), b.Name).String()
			if endSessionURL, ok := esp.EndSessionURL(idToken, postLogout, ""); ok {
				http.Redirect(w, r, endSessionURL, http.StatusFound)
				return
			}
		}
		http.Redirect(w, r, s.cfg.LandingPage.String(), http.StatusFound)
	}
}

// SignOutCallbackHandler is where the provider returns after logout.
func (s *Server) SignOutCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.cfg.LandingPage.String(), http.StatusFound)
	}
}
