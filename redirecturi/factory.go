package redirecturi

import (
	"net/http"
	"net/url"
	"strings"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
)

// CodeInvalidCustomHostName is reported when the custom host name carries a querystring.
const CodeInvalidCustomHostName = "GCN-B-322cf6ab8a70"

// Callback path suffixes appended to the provider name.
const (
	SignInCallbackSuffix  = "signin-callback"
	SignOutCallbackSuffix = "signout-callback"
)

// Origin is the scheme and host a request was observed on.
type Origin struct {
	Scheme string
	Host   string
}

// OriginFromRequest derives the origin of an inbound request. Forwarding
// headers set by a front proxy take precedence over the raw connection.
func OriginFromRequest(r *http.Request) Origin {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return Origin{Scheme: scheme, Host: host}
}

// Factory computes the redirect_uri sent to identity providers.
type Factory struct {
	customHost            *url.URL
	alwaysRedirectToHttps bool
}

// NewFactory builds a factory. customHostName may be empty; when set it must
// not carry a querystring.
func NewFactory(customHostName string, alwaysRedirectToHttps bool) (*Factory, error) {
	f := &Factory{alwaysRedirectToHttps: alwaysRedirectToHttps}
	if customHostName == "" {
		return f, nil
	}
	u, err := ParseCustomHostName(customHostName)
	if err != nil {
		return nil, err
	}
	f.customHost = u
	return f, nil
}

// ParseCustomHostName validates a host override. It accepts "host[:port]" or
// an absolute URL; neither may carry a querystring.
func ParseCustomHostName(hostname string) (*url.URL, error) {
	raw := hostname
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return nil, bfferrors.NewConfigurationError(CodeInvalidCustomHostName, bfferrors.ErrInvalidCustomHostName,
			"Error configuring custom hostname. %s is not a valid hostname. A custom hostname may not have a querystring.", hostname)
	}
	return u, nil
}

// Compute returns the sign-in callback URI for the named provider.
func (f *Factory) Compute(origin Origin, providerName string) *url.URL {
	return f.compute(origin, CallbackPath(providerName, SignInCallbackSuffix))
}

// ComputeSignOut returns the post-logout callback URI for the named provider.
func (f *Factory) ComputeSignOut(origin Origin, providerName string) *url.URL {
	return f.compute(origin, CallbackPath(providerName, SignOutCallbackSuffix))
}

// Secure reports whether URIs computed for origin use https.
func (f *Factory) Secure(origin Origin) bool {
	return f.compute(origin, "/").Scheme == "https"
}

func (f *Factory) compute(origin Origin, path string) *url.URL {
	scheme := origin.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := origin.Host
	basePath := ""

	if f.customHost != nil {
		host = f.customHost.Host
		if f.customHost.Scheme != "" {
			scheme = f.customHost.Scheme
		}
		basePath = strings.TrimSuffix(f.customHost.Path, "/")
	}

	if f.alwaysRedirectToHttps {
		scheme = "https"
	}

	return &url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   basePath + path,
	}
}

// CallbackPath returns "/{providerName}/{suffix}".
func CallbackPath(providerName, suffix string) string {
	return "/" + strings.Trim(providerName, "/") + "/" + suffix
}
