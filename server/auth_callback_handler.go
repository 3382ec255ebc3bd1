package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-bff/callbacks"
	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/internal/metrics"
	"github.com/jrsteele09/go-bff/providers"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/rs/zerolog/log"
)

// OAuthCallbackHandler completes the authorization code flow and creates the
// session. Any failure sends the browser to the error page and leaves no
// session behind.
func (s *Server) OAuthCallbackHandler(b providers.Bound) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		fail := func(err error, msg string) {
			s.metrics.Login(b.Name, metrics.OutcomeFailure)
			s.redirectWithError(w, r, b.Name, err, msg)
		}

		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		cookieState := s.flowState(r)
		s.ClearFlowCookie(w, r)

		// Check for authorization errors
		if errorParam := r.FormValue("error"); errorParam != "" {
			_ = s.authState.Delete(r.Context(), state)
			fail(fmt.Errorf("%w: %s", bfferrors.ErrCallbackRejected, errorParam), "Callback: provider returned an error")
			return
		}

		if code == "" || state == "" {
			fail(bfferrors.ErrInvalidState, "Callback: missing code or state parameter")
			return
		}
		if subtle.ConstantTimeCompare([]byte(state), []byte(cookieState)) != 1 {
			_ = s.authState.Delete(r.Context(), state)
			fail(bfferrors.ErrInvalidState, "Callback: state does not match this browser")
			return
		}

		// Consuming the state also cleans it up
		authState, err := s.authState.Consume(r.Context(), state)
		if err != nil {
			fail(err, "Callback: invalid state parameter")
			return
		}
		if authState.Provider != b.Name {
			fail(bfferrors.ErrInvalidState, "Callback: state belongs to another provider")
			return
		}

		exchange, err := b.Provider.CompleteExchange(ctx, providers.CallbackParams{
			Code:         code,
			RedirectURI:  authState.RedirectURI,
			CodeVerifier: authState.CodeVerifier,
			Nonce:        authState.Nonce,
		})
		if err != nil {
			fail(err, "Callback: code exchange failed")
			return
		}

		handler := s.cfg.Callback
		if b.Callback != nil {
			handler = b.Callback
		}
		if err := handler.OnAuthenticated(ctx, callbacks.ExchangeContext{
			Provider: b.Name,
			Claims:   exchange.Claims.Clone(),
			Request:  r,
		}, exchange.Tokens); err != nil {
			fail(fmt.Errorf("%w: %w", bfferrors.ErrCallbackRejected, err), "Callback: authentication callback handler failed")
			return
		}

		// A new identifier on every login. Whatever session this browser had is dropped.
		if previous := s.sessionID(r); previous != "" {
			if err := s.sessions.SignOut(ctx, previous); err != nil {
				log.Warn().Err(err).Msg("Callback: failed to drop previous session")
			}
		}

		sessionID, err := sessions.NewSessionID()
		if err != nil {
			fail(err, "Callback: failed to create session")
			return
		}
		if err := s.sessions.Create(ctx, sessionID, b.Name, exchange.Tokens); err != nil {
			fail(err, "Callback: failed to create session")
			return
		}

		s.metrics.Login(b.Name, metrics.OutcomeSuccess)
		s.SetSessionCookie(w, r, sessionID)
		http.Redirect(w, r, s.cfg.LandingPage.String(), http.StatusSeeOther)
	}
}
