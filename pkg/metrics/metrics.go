package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vitae", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vitae", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vitae", Name: "requests_total", Help: "Primary service actions by outcome (ok or error kind)."},
		[]string{"action", "result"},
	)
	StorageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vitae", Name: "storage_operations_total", Help: "Record storage calls by record kind, operation and result."},
		[]string{"kind", "op", "result"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vitae", Name: "cache_lookups_total", Help: "Record cache lookups by result (hit, miss, error)."},
		[]string{"result"},
	)
	Publish = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vitae", Name: "publish_total", Help: "Static page publish operations by op and result."},
		[]string{"op", "result"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "vitae", Name: "http_request_duration_seconds", Help: "HTTP request latency by method, route and status.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(Requests)
	reg.MustRegister(StorageOperations)
	reg.MustRegister(CacheLookups)
	reg.MustRegister(Publish)
	reg.MustRegister(HTTPRequestDuration)
}
