package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		reconcileOutcomesTotal,
		identityResolutionsTotal,
		userLockWait,
		userLockTimeoutsTotal,
		unresolvedBacklog,
	)
}

var (
	reconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Pipeline runs by trigger (webhook/manual/retry) and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	identityResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_resolutions_total",
			Help: "Payments linked to a user, by the rule that matched.",
		},
		[]string{"source"},
	)

	userLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "user_lock_wait_seconds",
			Help:    "Time spent waiting for the per-user reconciliation lock.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
	)

	userLockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "user_lock_timeouts_total",
			Help: "Per-user lock acquisitions that gave up after the configured wait.",
		},
	)

	unresolvedBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unresolved_payments_backlog",
			Help: "Payments awaiting manual reconciliation, as seen by the last reconciler pass.",
		},
	)
)

func IncReconcileOutcome(trigger, outcome string) {
	reconcileOutcomesTotal.WithLabelValues(norm(trigger), norm(outcome)).Inc()
}

func IncIdentityResolution(source string) {
	identityResolutionsTotal.WithLabelValues(norm(source)).Inc()
}

func ObserveUserLockWait(d time.Duration) {
	userLockWait.Observe(d.Seconds())
}

func IncUserLockTimeout() {
	userLockTimeoutsTotal.Inc()
}

func SetUnresolvedBacklog(n int) {
	unresolvedBacklog.Set(float64(n))
}
