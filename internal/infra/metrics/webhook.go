package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookRequestsTotal,
		webhookDuration,
		quarantinedEventsTotal,
	)
}

var (
	// result: processed|duplicate|unresolved|ignored|quarantined|bad_signature|retry|error
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Gateway webhook deliveries by gateway and result.",
		},
		[]string{"gateway", "result"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Time to acknowledge a gateway webhook, by result.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	quarantinedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_quarantined_total",
			Help: "Authentic webhook bodies parked for inspection, by validation reason.",
		},
		[]string{"reason"},
	)
)

func ObserveWebhook(gateway, result string, took time.Duration) {
	webhookRequestsTotal.WithLabelValues(norm(gateway), norm(result)).Inc()
	webhookDuration.WithLabelValues(norm(result)).Observe(took.Seconds())
}

func IncQuarantined(reason string) {
	quarantinedEventsTotal.WithLabelValues(norm(reason)).Inc()
}
