package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the daemon surface. Watch for: sudden drops (daemon down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Backend facet call rate by facet and status. Watch for: error vs success ratio per facet.
	FacetRequestsTotal *prometheus.CounterVec

	// Backend facet latency. Watch for: p95 > 2s (upstream degradation).
	FacetRequestDuration *prometheus.HistogramVec

	// Retry attempts against the backend. High retries = unstable upstream.
	FacetRetriesTotal prometheus.Counter

	// Resolution outcomes: live, cache, offline_cache, error. Watch for: offline/error share.
	ResolutionsTotal *prometheus.CounterVec

	// Fresh cache hits served before any network attempt.
	CacheHitsTotal prometheus.Counter

	// Stale bundles served because the live fetch failed or the network was down.
	StaleServesTotal prometheus.Counter

	// Janitor removals by reason (expired, corrupt).
	JanitorRemovedTotal *prometheus.CounterVec

	// Reachability signal: 1 online, 0 offline.
	NetworkOnline prometheus.Gauge

	// Geolocation attempts by outcome (success, timeout, error).
	GeolocationTotal *prometheus.CounterVec

	// Rate limit denials on the daemon surface.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	FacetRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facetRequestsTotal",
			Help: "Backend facet requests by facet and status",
		},
		[]string{"facet", "status"},
	)
	FacetRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facetRequestDurationSeconds",
			Help:    "Backend facet request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"facet", "status"},
	)
	FacetRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "facetRetriesTotal",
			Help: "Total retry attempts against the backend",
		},
	)
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolutionsTotal",
			Help: "Completed resolutions by outcome",
		},
		[]string{"outcome"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Fresh cache entries served before network settle",
		},
	)
	StaleServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleServesTotal",
			Help: "Stale cache entries served as fallback",
		},
	)
	JanitorRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "janitorRemovedTotal",
			Help: "Cache entries removed by the janitor",
		},
		[]string{"reason"},
	)
	NetworkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "networkOnline",
			Help: "Backend reachability signal (1 online, 0 offline)",
		},
	)
	GeolocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geolocationTotal",
			Help: "Geolocation attempts by outcome",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Requests denied by the rate limiter",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		FacetRequestsTotal,
		FacetRequestDuration,
		FacetRetriesTotal,
		ResolutionsTotal,
		CacheHitsTotal,
		StaleServesTotal,
		JanitorRemovedTotal,
		NetworkOnline,
		GeolocationTotal,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns the HTTP handler serving the private registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
