package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-bff/redirecturi"
	"github.com/rs/zerolog/log"
)

// flowCookieSuffix names the short-lived cookie binding an authorization
// redirect to the browser that started it.
const flowCookieSuffix = ".flow"

func (s *Server) secure(r *http.Request) bool {
	return s.redirects.Secure(redirecturi.OriginFromRequest(r))
}

func (s *Server) sessionID(r *http.Request) string {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// SetFlowCookie stores the OAuth state for the callback to compare. form_post
// callbacks arrive as cross-site POSTs, so the cookie is SameSite=None
// whenever it can be Secure.
func (s *Server) SetFlowCookie(w http.ResponseWriter, r *http.Request, state string, maxAge int) {
	secure := s.secure(r)
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName + flowCookieSuffix,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		MaxAge:   maxAge,
	})
}

func (s *Server) flowState(r *http.Request) string {
	c, err := r.Cookie(s.cfg.CookieName + flowCookieSuffix)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) ClearFlowCookie(w http.ResponseWriter, r *http.Request) {
	s.SetFlowCookie(w, r, "", -1)
}

// redirectWithError logs err under a fresh correlation code and sends the
// browser to the error page with only that code.
func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, provider string, err error, msg string) {
	code := uuid.NewString()
	log.Warn().Err(err).Str("provider", provider).Str("error_code", code).Msg(msg)
	http.Redirect(w, r, s.cfg.ErrorPage.WithError(code), http.StatusSeeOther)
}
