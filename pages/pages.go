// Package pages validates the relative redirect targets the gateway sends the
// browser to after authentication: the error page and the landing page.
package pages

import (
	"net/url"
	"strings"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
)

// Diagnostic codes reported when a page fails validation.
const (
	CodeInvalidErrorPage   = "GNC-B-faa80ff1e452"
	CodeInvalidLandingPage = "GNC-B-f30ab76dde63"
	CodeInvalidPage        = "GNC-B-2c4e8a1f6b90"
)

// Path is a validated relative path. It always begins with "/" and has no
// scheme, host, query or fragment.
type Path string

// ErrorPage is where failed authentications are sent.
type ErrorPage Path

// LandingPage is where successful authentications and sign-outs are sent.
type LandingPage Path

// Default targets used when nothing is configured.
const (
	DefaultErrorPage   ErrorPage   = "/"
	DefaultLandingPage LandingPage = "/"
)

// Parse validates path as a relative redirect target.
func Parse(path string) (Path, error) {
	if !valid(path) {
		return "", bfferrors.NewConfigurationError(CodeInvalidPage, bfferrors.ErrConfiguration,
			"Invalid page %q. The path must be relative and may not have a querystring.", path)
	}
	return Path(path), nil
}

// ParseErrorPage validates the authentication error page.
func ParseErrorPage(path string) (ErrorPage, error) {
	if !valid(path) {
		return "", bfferrors.NewConfigurationError(CodeInvalidErrorPage, bfferrors.ErrInvalidErrorPage,
			"Invalid error page. The path to the error page must be relative and may not have a querystring.")
	}
	return ErrorPage(path), nil
}

// ParseLandingPage validates the landing page.
func ParseLandingPage(path string) (LandingPage, error) {
	if !valid(path) {
		return "", bfferrors.NewConfigurationError(CodeInvalidLandingPage, bfferrors.ErrInvalidLandingPage,
			"Invalid landing page. The path to the landing page must be relative and may not have a querystring.")
	}
	return LandingPage(path), nil
}

func valid(path string) bool {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return false
	}
	if strings.ContainsAny(path, "?#\\") {
		return false
	}
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return !u.IsAbs() && u.Host == "" && u.User == nil && u.RawQuery == "" && u.Fragment == ""
}

// WithError returns the error page with an opaque error code appended as the
// "error" query parameter.
func (p ErrorPage) WithError(code string) string {
	return string(p) + "?" + url.Values{"error": {code}}.Encode()
}

func (p ErrorPage) String() string {
	return string(p)
}

func (p LandingPage) String() string {
	return string(p)
}
