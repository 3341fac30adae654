package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "whisperd",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Number of jobs waiting in the admission queue",
		},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whisperd",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total finished jobs by terminal status",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "whisperd",
			Subsystem: "jobs",
			Name:      "processing_duration_seconds",
			Help:      "Wall-clock processing time per job, start to finish",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	callbackDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whisperd",
			Subsystem: "jobs",
			Name:      "callback_deliveries_total",
			Help:      "Callback delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whisperd",
			Subsystem: "jobs",
			Name:      "worker_restarts_total",
			Help:      "Worker loop restarts after a panic, per device",
		},
		[]string{"device"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, jobsTotal, jobDuration, callbackDeliveries, workerRestarts)
}
