// Package metrics exposes Prometheus instruments for the auth pages
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "supalogin"

// Metrics holds every instrument the service records
type Metrics struct {
	AuthAttempts  *prometheus.CounterVec
	OAuthStarts   *prometheus.CounterVec
	SessionEvents *prometheus.CounterVec
	HomeObservers prometheus.Gauge
	Browsers      prometheus.Gauge
	RateLimited   prometheus.Counter
}

// New creates the instruments and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Resolved form submits by intent and resulting state.",
		}, []string{"intent", "outcome"}),
		OAuthStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_starts_total",
			Help:      "OAuth redirects requested by provider and outcome.",
		}, []string{"provider", "outcome"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session transitions observed, by event.",
		}, []string{"event"}),
		HomeObservers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "home_observers",
			Help:      "Home views currently subscribed to session changes.",
		}),
		Browsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browsers",
			Help:      "Browser states held in memory.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter.",
		}),
	}

	reg.MustRegister(m.AuthAttempts, m.OAuthStarts, m.SessionEvents, m.HomeObservers, m.Browsers, m.RateLimited)
	return m
}
