package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsCapturedAmountTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Ledger status changes by resulting payment status.",
		},
		[]string{"status"},
	)

	paymentsCapturedAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_captured_amount_total",
			Help: "Captured amount in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddCapturedAmount(currency string, amount int64) {
	paymentsCapturedAmountTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}
