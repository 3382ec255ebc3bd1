package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-bff/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	m := metrics.New()
	m.ObserveSessions(func() float64 { return 3 })

	m.SessionCreated()
	m.SessionCreated()
	m.SessionSignedOut()
	m.Refresh("oidc", metrics.OutcomeSuccess)
	m.Login("oidc", metrics.OutcomeFailure)
	m.Proxied("api", http.StatusBadGateway)
	m.Proxied("api", http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	require.Contains(t, out, "bff_sessions_created_total 2")
	require.Contains(t, out, "bff_sessions_active 3")
	require.Contains(t, out, `bff_token_refreshes_total{outcome="success",provider="oidc"} 1`)
	require.Contains(t, out, `bff_logins_total{outcome="failure",provider="oidc"} 1`)
	require.Contains(t, out, `bff_proxy_requests_total{route="api",status="5xx"} 1`)
	require.Contains(t, out, `bff_proxy_requests_total{route="api",status="2xx"} 1`)

	count, err := testutil.GatherAndCount(m.Registry(), "bff_proxy_requests_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestNilRecorder(t *testing.T) {
	var m *metrics.Recorder

	require.NotPanics(t, func() {
		m.SessionCreated()
		m.SessionEvicted()
		m.SessionSignedOut()
		m.Refresh("oidc", metrics.OutcomeFailure)
		m.Login("oidc", metrics.OutcomeSuccess)
		m.Proxied("api", http.StatusOK)
		m.ObserveSessions(func() float64 { return 1 })
	})
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func scrape(t *testing.T, m *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

// Sessions created or destroyed elsewhere show up because the gauge reads the
// repository, not this instance's own events.
func TestRecorder_SessionsActiveFollowsSource(t *testing.T) {
	m := metrics.New()
	require.Contains(t, scrape(t, m), "bff_sessions_active 0")

	stored := 2.0
	m.ObserveSessions(func() float64 { return stored })
	m.SessionSignedOut()
	m.SessionEvicted()
	m.SessionEvicted()
	m.SessionEvicted()
	require.Contains(t, scrape(t, m), "bff_sessions_active 2")

	stored = 5
	require.Contains(t, scrape(t, m), "bff_sessions_active 5")
}
