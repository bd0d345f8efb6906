package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, cacheErrorsTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Cache lookups by cache and result (hit/miss).",
		},
		[]string{"cache", "result"},
	)

	cacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Cache backend errors by cache and operation. Errors degrade to a miss.",
		},
		[]string{"cache", "op"},
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncCacheError(cacheName, op string) {
	cacheErrorsTotal.WithLabelValues(norm(cacheName), norm(op)).Inc()
}
