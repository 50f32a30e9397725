// Package metrics registers the Prometheus instruments the pipeline and
// caches update, and exposes the /metrics handler's registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yatagarasu"

var (
	// Registry is the registry used by the admin /metrics handler. A
	// dedicated registry (rather than the global default) keeps this
	// package's instruments independent of whatever else a host process
	// registers.
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total requests handled, by bucket and response status.",
	}, []string{"bucket", "status"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Request handling latency, by bucket and cache status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"bucket", "cache_status"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Cache hits, by layer.",
	}, []string{"layer"})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Requests that missed every cache layer.",
	})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Requests forwarded to a replica, by replica and outcome.",
	}, []string{"replica", "outcome"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream replica round-trip latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"replica"})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Current breaker state per replica: 0=closed, 1=half_open, 2=open.",
	}, []string{"replica"})

	RateLimitRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the rate limiter, by scope.",
	}, []string{"scope"})

	AuditQueueDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_queue_dropped_total",
		Help:      "Audit records dropped due to queue overflow.",
	})
)

func init() {
	Registry.MustRegister(
		RequestsTotal,
		RequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		CircuitBreakerState,
		RateLimitRejectionsTotal,
		AuditQueueDroppedTotal,
	)
}
