// Package metrics holds the Prometheus collectors shared by the provider
// clients, the rate limiter and the HTTP handlers. Collectors register with
// the default registry on import and are served by promhttp at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequests counts outbound provider calls by outcome, which is
	// "ok" or an error kind such as "rate_limited".
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_enrich_provider_requests_total",
		Help: "Outbound requests to music-data providers by outcome.",
	}, []string{"provider", "op", "outcome"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "music_enrich_provider_request_duration_seconds",
		Help:    "Latency of outbound provider requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "op"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_enrich_ratelimit_decisions_total",
		Help: "Per-caller limiter decisions.",
	}, []string{"allowed"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_enrich_http_requests_total",
		Help: "Inbound API requests by route and status code.",
	}, []string{"route", "status"})
)

// ObserveProvider records one provider call.
func ObserveProvider(provider, op, outcome string, started time.Time) {
	ProviderRequests.WithLabelValues(provider, op, outcome).Inc()
	ProviderDuration.WithLabelValues(provider, op).Observe(time.Since(started).Seconds())
}

// ObserveDecision records a limiter decision.
func ObserveDecision(allowed bool) {
	RateLimitDecisions.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// ObserveHTTP records one handled API request.
func ObserveHTTP(route string, status int) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
