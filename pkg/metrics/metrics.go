package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campusgrid_workers_total",
			Help: "Registered workers by status",
		},
		[]string{"status"},
	)

	WorkerConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusgrid_worker_connections_active",
			Help: "Currently open worker connections",
		},
	)

	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campusgrid_jobs_total",
			Help: "Jobs by lifecycle state",
		},
		[]string{"state"},
	)

	JobsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campusgrid_jobs_dispatched_total",
			Help: "Jobs handed to workers",
		},
	)

	JobResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusgrid_job_results_total",
			Help: "Job results received by outcome",
		},
		[]string{"outcome"},
	)

	JobsRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campusgrid_jobs_requeued_total",
			Help: "Jobs returned to the queue after their worker was lost",
		},
	)

	JobExecutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campusgrid_job_execution_seconds",
			Help:    "Worker-reported job execution time in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campusgrid_dispatch_latency_seconds",
			Help:    "Time to select and claim a job for a requesting worker",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Protocol metrics
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusgrid_messages_received_total",
			Help: "Protocol messages received by type",
		},
		[]string{"type"},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campusgrid_heartbeats_total",
			Help: "Heartbeats received from workers",
		},
	)

	// Credit metrics
	CreditsTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusgrid_credits_transferred_total",
			Help: "Credits moved through the ledger by transaction type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerConnections)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsDispatched)
	prometheus.MustRegister(JobResults)
	prometheus.MustRegister(JobsRequeued)
	prometheus.MustRegister(JobExecutionSeconds)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(CreditsTransferred)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
