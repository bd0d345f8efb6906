package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(workerTasksTotal, workerQueueDepth) }

var (
	// result: ok|failed|panic|dropped
	workerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Background tasks by result.",
		},
		[]string{"result"},
	)

	workerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Tasks waiting for a worker.",
		},
	)
)

func IncWorkerTask(result string) {
	workerTasksTotal.WithLabelValues(norm(result)).Inc()
}

func SetWorkerQueueDepth(n int) {
	workerQueueDepth.Set(float64(n))
}
