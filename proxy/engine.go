package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
)

var _ Forwarder = (*Engine)(nil)

// Hop-by-hop headers. These are removed when sent to the backend.
// http://www.w3.org/Protocols/rfc2616/rfc2616-sec13.html
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Engine forwards requests to clusters over a shared transport.
type Engine struct {
	clusters  map[string]*url.URL
	transport http.RoundTripper
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTransport replaces the default transport.
func WithTransport(rt http.RoundTripper) EngineOption {
	return func(e *Engine) {
		if rt != nil {
			e.transport = rt
		}
	}
}

// NewEngine resolves every cluster's first destination.
func NewEngine(clusters []Cluster, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		clusters: make(map[string]*url.URL, len(clusters)),
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, c := range clusters {
		if c.Name == "" {
			return nil, clusterError(c.Name, bfferrors.New("cluster name is required"))
		}
		if _, dup := e.clusters[c.Name]; dup {
			return nil, clusterError(c.Name, bfferrors.New("duplicate cluster"))
		}
		if len(c.Destinations) == 0 {
			return nil, clusterError(c.Name, bfferrors.New("at least one destination is required"))
		}
		target, err := url.Parse(c.Destinations[0])
		if err != nil {
			return nil, clusterError(c.Name, err)
		}
		if target.Scheme != "http" && target.Scheme != "https" || target.Host == "" {
			return nil, clusterError(c.Name, bfferrors.New("destination must be an absolute http(s) URL"))
		}
		e.clusters[c.Name] = target
	}
	return e, nil
}

func clusterError(name string, err error) error {
	return bfferrors.NewConfigurationError(CodeInvalidRoute, bfferrors.Join(bfferrors.ErrInvalidRoute, err), "Invalid cluster %q: %v", name, err)
}

// Forward rewrites req onto the cluster's destination and performs the round
// trip. The incoming request is not modified.
func (e *Engine) Forward(req *http.Request, cluster string) (*http.Response, error) {
	target, ok := e.clusters[cluster]
	if !ok {
		return nil, bfferrors.Wrapf(bfferrors.ErrUnknownCluster, "cluster %q", cluster)
	}

	out := req.Clone(req.Context())
	out.RequestURI = ""
	if req.ContentLength == 0 {
		out.Body = nil
	}
	removeHopHeaders(out.Header)

	pr := &httputil.ProxyRequest{In: req, Out: out}
	pr.SetURL(target)
	pr.SetXForwarded()
	// Keep what a proxy in front of the gateway reported.
	if host := req.Header.Get("X-Forwarded-Host"); host != "" {
		out.Header.Set("X-Forwarded-Host", host)
	}
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		out.Header.Set("X-Forwarded-Proto", proto)
	}

	resp, err := e.transport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	removeHopHeaders(resp.Header)
	return resp, nil
}

func removeHopHeaders(h http.Header) {
	if c := h.Get("Connection"); c != "" {
		for _, f := range strings.Split(c, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, hh := range hopHeaders {
		h.Del(hh)
	}
}
