/*
Package metrics provides Prometheus metrics and health endpoints for the
CampusGrid manager.

All metrics are registered at package init on the default registry and
exposed through promhttp at /metrics. Counters and histograms are updated
inline at their call sites; the Collector samples the store every 15 seconds
to keep the point-in-time gauges current.

# Metrics Catalog

Fleet:

	campusgrid_workers_total{status}           Registered workers by status
	campusgrid_worker_connections_active       Open worker connections

Jobs:

	campusgrid_jobs_total{state}               Jobs by lifecycle state
	campusgrid_jobs_dispatched_total           Jobs handed to workers
	campusgrid_job_results_total{outcome}      Results received (success/failure)
	campusgrid_jobs_requeued_total             Jobs rescued from lost workers
	campusgrid_job_execution_seconds           Worker-reported execution time
	campusgrid_dispatch_latency_seconds        Queue selection latency

Protocol:

	campusgrid_messages_received_total{type}   Messages by protocol type
	campusgrid_heartbeats_total                Heartbeats received

Credits:

	campusgrid_credits_transferred_total{type} Ledger movement by transaction type

# Health Endpoints

The same HTTP mux that serves /metrics also serves:

	/health  overall health, 503 when any component reports unhealthy
	/ready   readiness, gated on the store and TCP server components
	/live    liveness, 200 whenever the process is up

Components report their state through RegisterComponent and UpdateComponent.

# Usage

	timer := metrics.NewTimer()
	job, err := st.NextJobForWorker(workerID)
	timer.ObserveDuration(metrics.DispatchLatency)

	metrics.JobsDispatched.Inc()
	metrics.JobResults.WithLabelValues("success").Inc()

Labels stay low-cardinality: statuses, states and message types only, never
worker or job IDs.
*/
package metrics
