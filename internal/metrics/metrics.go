// Package metrics exposes Prometheus collectors for the gateway. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bff"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder groups the gateway's collectors.
type Recorder struct {
	registry *prometheus.Registry

	sessionsCreated   prometheus.Counter
	sessionsEvicted   prometheus.Counter
	sessionsSignedOut prometheus.Counter
	sessionsActive    prometheus.GaugeFunc
	sessionCount      atomic.Pointer[func() float64]
	refreshes         *prometheus.CounterVec
	logins            *prometheus.CounterVec
	proxied           *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go and process
// collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created after a successful authentication callback.",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions destroyed by idle timeout or failed refresh.",
		}),
		sessionsSignedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_signed_out_total",
			Help:      "Sessions destroyed by explicit sign-out.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Upstream token refresh calls by outcome.",
		}, []string{"provider", "outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Completed authentication callbacks by outcome.",
		}, []string{"provider", "outcome"}),
		proxied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxied requests by route and status class.",
		}, []string{"route", "status"}),
	}
	r.sessionsActive = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions in the session repository, including those created by other instances sharing it.",
	}, r.countSessions)

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.sessionsCreated,
		r.sessionsEvicted,
		r.sessionsSignedOut,
		r.sessionsActive,
		r.refreshes,
		r.logins,
		r.proxied,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveSessions sets the source of the sessions_active gauge. It is read on
// every scrape; the last source set wins.
func (r *Recorder) ObserveSessions(count func() float64) {
	if r == nil || count == nil {
		return
	}
	r.sessionCount.Store(&count)
}

func (r *Recorder) countSessions() float64 {
	count := r.sessionCount.Load()
	if count == nil {
		return 0
	}
	return (*count)()
}

func (r *Recorder) SessionCreated() {
	if r == nil {
		return
	}
	r.sessionsCreated.Inc()
}

func (r *Recorder) SessionEvicted() {
	if r == nil {
		return
	}
	r.sessionsEvicted.Inc()
}

func (r *Recorder) SessionSignedOut() {
	if r == nil {
		return
	}
	r.sessionsSignedOut.Inc()
}

func (r *Recorder) Refresh(provider, outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(provider, outcome).Inc()
}

func (r *Recorder) Login(provider, outcome string) {
	if r == nil {
		return
	}
	r.logins.WithLabelValues(provider, outcome).Inc()
}

// Proxied records a forwarded or rejected request. status is the HTTP status
// returned to the browser.
func (r *Recorder) Proxied(route string, status int) {
	if r == nil {
		return
	}
	r.proxied.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
