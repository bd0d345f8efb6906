package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		statusReprojectionsTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Projections refreshed by the expiry sweep because a grant ran out.",
		},
	)

	// trigger: read|sweep|refresh
	statusReprojectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_reprojections_total",
			Help: "Status projections recomputed outside the webhook path, by trigger.",
		},
		[]string{"trigger"},
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncStatusReprojection(trigger string) {
	statusReprojectionsTotal.WithLabelValues(norm(trigger)).Inc()
}
