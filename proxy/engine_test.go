package proxy_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
	"github.com/jrsteele09/go-bff/proxy"
	"github.com/stretchr/testify/require"
)

func TestEngine_Forward(t *testing.T) {
	var seen *http.Request
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(r.Context())
		w.Header().Set("Connection", "close")
		w.Header().Set("X-Backend", "yes")
		_, _ = io.WriteString(w, "hello")
	}))
	defer backend.Close()

	engine, err := proxy.NewEngine([]proxy.Cluster{{Name: "api", Destinations: []string{backend.URL + "/base"}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://app.local/api/orders?page=2", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Connection", "X-Hop")
	req.Header.Set("X-Hop", "1")
	req.Header.Set("Keep-Alive", "timeout=5")

	resp, err := engine.Forward(req, "api")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.Equal(t, "yes", resp.Header.Get("X-Backend"))
	require.Empty(t, resp.Header.Get("Connection"))

	require.Equal(t, "/base/api/orders", seen.URL.Path)
	require.Equal(t, "page=2", seen.URL.RawQuery)
	require.Equal(t, "Bearer token", seen.Header.Get("Authorization"))
	require.Empty(t, seen.Header.Get("X-Hop"))
	require.Empty(t, seen.Header.Get("Keep-Alive"))
	require.Equal(t, "10.0.0.7", seen.Header.Get("X-Forwarded-For"))
	require.Equal(t, "app.local", seen.Header.Get("X-Forwarded-Host"))
	require.Equal(t, "http", seen.Header.Get("X-Forwarded-Proto"))

	// The caller's request is untouched.
	require.Equal(t, "/api/orders", req.URL.Path)
	require.Equal(t, "X-Hop", req.Header.Get("Connection"))
}

func TestEngine_UnknownCluster(t *testing.T) {
	engine, err := proxy.NewEngine(nil)
	require.NoError(t, err)

	_, err = engine.Forward(httptest.NewRequest(http.MethodGet, "/", nil), "missing")
	require.ErrorIs(t, err, bfferrors.ErrUnknownCluster)
}

func TestNewEngine_InvalidClusters(t *testing.T) {
	tests := []struct {
		name     string
		clusters []proxy.Cluster
	}{
		{name: "no destinations", clusters: []proxy.Cluster{{Name: "api"}}},
		{name: "relative destination", clusters: []proxy.Cluster{{Name: "api", Destinations: []string{"/api"}}}},
		{name: "duplicate", clusters: []proxy.Cluster{
			{Name: "api", Destinations: []string{"http://a"}},
			{Name: "api", Destinations: []string{"http://b"}},
		}},
		{name: "unnamed", clusters: []proxy.Cluster{{Destinations: []string{"http://a"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := proxy.NewEngine(tc.clusters)
			require.True(t, bfferrors.IsConfiguration(err))
		})
	}
}
