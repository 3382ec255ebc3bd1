package pages_test

import (
	"testing"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/pages"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{name: "plain path", path: "/error", valid: true},
		{name: "root", path: "/", valid: true},
		{name: "nested", path: "/app/landing", valid: true},
		{name: "query string", path: "/error?x=1", valid: false},
		{name: "absolute url", path: "http://h/error", valid: false},
		{name: "no leading slash", path: "error", valid: false},
		{name: "network path", path: "//evil.example/error", valid: false},
		{name: "fragment", path: "/error#top", valid: false},
		{name: "empty", path: "", valid: false},
		{name: "backslash", path: "/\\evil.example", valid: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := pages.Parse(tc.path)
			if tc.valid {
				require.NoError(t, err)
				require.Equal(t, pages.Path(tc.path), p)
				return
			}
			var cfgErr *bfferrors.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, pages.CodeInvalidPage, cfgErr.Code)
		})
	}
}

func TestParseErrorPage_Codes(t *testing.T) {
	_, err := pages.ParseErrorPage("/error?x=1")
	require.Error(t, err)
	require.ErrorIs(t, err, bfferrors.ErrInvalidErrorPage)

	var cfgErr *bfferrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, pages.CodeInvalidErrorPage, cfgErr.Code)

	page, err := pages.ParseErrorPage("/error")
	require.NoError(t, err)
	require.Equal(t, "/error?error=login_failed", page.WithError("login_failed"))
}

func TestParseLandingPage_Codes(t *testing.T) {
	_, err := pages.ParseLandingPage("landing")
	var cfgErr *bfferrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, pages.CodeInvalidLandingPage, cfgErr.Code)
	require.ErrorIs(t, err, bfferrors.ErrInvalidLandingPage)

	page, err := pages.ParseLandingPage("/home")
	require.NoError(t, err)
	require.Equal(t, "/home", page.String())
}
