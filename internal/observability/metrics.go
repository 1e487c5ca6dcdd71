// Package observability defines the Prometheus metrics of the tunnel
// bootstrap. Metric names carry the gtpeer_ prefix.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Finished negotiation sessions, labeled by role and outcome.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtpeer_sessions_total",
			Help: "Total number of negotiation sessions, labeled by role and outcome.",
		},
		[]string{"role", "outcome"},
	)

	// Time from session start until the first data channel opened.
	NegotiationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gtpeer_negotiation_duration_seconds",
			Help:    "Histogram of the time from session start to the first open data channel, labeled by role.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"role"},
	)

	// HTTP exchanges relayed over data channels.
	RelayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtpeer_relay_requests_total",
			Help: "Total number of HTTP exchanges relayed over data channels, labeled by role and status code.",
		},
		[]string{"role", "status"}, // status is "none" when no response was obtained
	)

	// Control operations sent and received.
	ControlMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtpeer_control_messages_total",
			Help: "Total number of control operations, labeled by direction and kind.",
		},
		[]string{"direction", "kind"}, // direction: sent, received
	)
)

var registerOnce sync.Once

// MustRegister registers the metrics above with the default Prometheus
// registry. Repeated calls are no-ops.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SessionsTotal,
			NegotiationDurationSeconds,
			RelayRequestsTotal,
			ControlMessagesTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
