// Package callbacks lets the application observe or veto a completed login
// before a session is created for it.
package callbacks

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-bff/claims"
	"github.com/jrsteele09/go-bff/sessions"
)

// ExchangeContext describes the login that just completed.
type ExchangeContext struct {
	Provider string        // Registration name
	Claims   claims.Claims // Verified ID token claims; a copy owned by the handler
	Request  *http.Request // The callback request
}

// Handler is invoked once per successful code exchange. Returning an error
// aborts the login: no session is created and the browser is sent to the
// error page.
type Handler interface {
	OnAuthenticated(ctx context.Context, exchange ExchangeContext, tokens sessions.TokenSet) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, exchange ExchangeContext, tokens sessions.TokenSet) error

func (f HandlerFunc) OnAuthenticated(ctx context.Context, exchange ExchangeContext, tokens sessions.TokenSet) error {
	return f(ctx, exchange, tokens)
}

type noop struct{}

func (noop) OnAuthenticated(context.Context, ExchangeContext, sessions.TokenSet) error {
	return nil
}

// Default accepts every login.
var Default Handler = noop{}

// OrDefault returns h, or Default when h is nil.
func OrDefault(h Handler) Handler {
	if h == nil {
		return Default
	}
	return h
}
