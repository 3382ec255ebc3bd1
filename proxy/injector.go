package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/jrsteele09/go-bff/internal/metrics"
	"github.com/jrsteele09/go-bff/sessions"
	"github.com/rs/zerolog/log"
)

// DefaultMaxReplayBody bounds the request body kept in memory so a request
// can be replayed after a token refresh.
const DefaultMaxReplayBody int64 = 4 << 20

const (
	authorizationHeader = "Authorization"
	bearerTokenPrefix   = "Bearer "
)

// TokenSource is the part of the session store the injector needs.
type TokenSource interface {
	GetAccessToken(ctx context.Context, sessionID string) (string, bool)
	RefreshStale(ctx context.Context, sessionID, staleAccessToken string) (sessions.TokenSet, error)
	Hold(ctx context.Context, sessionID string) (release func())
}

var _ TokenSource = (*sessions.Store)(nil)

// Injector attaches the session's access token to proxied requests.
type Injector struct {
	tokens        TokenSource
	forwarder     Forwarder
	routes        *RouteTable
	cookieName    string
	maxReplayBody int64
	metrics       *metrics.Recorder
}

// InjectorOption configures an Injector.
type InjectorOption func(*Injector)

// WithMaxReplayBody sets the largest body that is buffered for a retry.
func WithMaxReplayBody(n int64) InjectorOption {
	return func(i *Injector) {
		i.maxReplayBody = n
	}
}

// WithInjectorMetrics records proxy outcomes.
func WithInjectorMetrics(m *metrics.Recorder) InjectorOption {
	return func(i *Injector) {
		i.metrics = m
	}
}

// NewInjector creates an Injector serving the given route table.
func NewInjector(tokens TokenSource, forwarder Forwarder, routes *RouteTable, cookieName string, opts ...InjectorOption) *Injector {
	i := &Injector{
		tokens:        tokens,
		forwarder:     forwarder,
		routes:        routes,
		cookieName:    cookieName,
		maxReplayBody: DefaultMaxReplayBody,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Injector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := i.routes.Match(r.URL.Path)
	if !ok || route.Local() {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	sessionID := i.sessionID(r)

	var token string
	var authenticated bool
	if sessionID != "" {
		token, authenticated = i.tokens.GetAccessToken(ctx, sessionID)
	}
	if !authenticated && route.AuthRequired {
		i.unauthorized(w, route)
		return
	}
	if authenticated {
		release := i.tokens.Hold(ctx, sessionID)
		defer release()
	}

	body, replayable, err := i.bufferBody(r)
	if err != nil {
		log.Warn().Err(err).Str("route", route.Name).Msg("failed to read request body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	resp, err := i.forward(r, route, token, body)
	if err != nil {
		i.badGateway(w, route, err)
		return
	}

	if resp.StatusCode == http.StatusUnauthorized && authenticated && replayable {
		drain(resp)

		tokens, err := i.tokens.RefreshStale(ctx, sessionID, token)
		if err != nil {
			log.Debug().Err(err).Str("route", route.Name).Msg("refresh after upstream 401 failed")
			i.unauthorized(w, route)
			return
		}

		// One retry. Whatever comes back is passed through.
		resp, err = i.forward(r, route, tokens.AccessToken, body)
		if err != nil {
			i.badGateway(w, route, err)
			return
		}
	}

	i.metrics.Proxied(route.Name, resp.StatusCode)
	copyResponse(w, resp)
}

func (i *Injector) sessionID(r *http.Request) string {
	c, err := r.Cookie(i.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// bufferBody reads up to maxReplayBody bytes. A larger body is streamed once
// and cannot be replayed.
func (i *Injector) bufferBody(r *http.Request) (func() io.ReadCloser, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return func() io.ReadCloser { return http.NoBody }, true, nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, i.maxReplayBody+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) > i.maxReplayBody {
		stream := io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body))
		return func() io.ReadCloser { return stream }, false, nil
	}
	return func() io.ReadCloser { return io.NopCloser(bytes.NewReader(buf)) }, true, nil
}

func (i *Injector) forward(r *http.Request, route Route, token string, body func() io.ReadCloser) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.Body = body()
	if token != "" {
		out.Header.Set(authorizationHeader, bearerTokenPrefix+token)
	}
	if route.StripPrefix {
		out.URL.Path = route.UpstreamPath(r.URL.Path)
		out.URL.RawPath = ""
	}
	return i.forwarder.Forward(out, route.Cluster)
}

func (i *Injector) unauthorized(w http.ResponseWriter, route Route) {
	i.metrics.Proxied(route.Name, http.StatusUnauthorized)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

func (i *Injector) badGateway(w http.ResponseWriter, route Route, err error) {
	if !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("route", route.Name).Str("cluster", route.Cluster).Msg("upstream request failed")
	}
	i.metrics.Proxied(route.Name, http.StatusBadGateway)
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			// Streamed responses (SSE, chunked) reach the browser as they arrive.
			if resp.ContentLength == -1 {
				_ = rc.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
