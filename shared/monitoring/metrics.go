package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no video ids, user ids or request ids.
var (
	// GenerationRequestsTotal counts generation requests by outcome
	// (success, degraded, failed).
	GenerationRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytsum_generation_requests_total",
		Help: "Total number of study-material generation requests, by outcome.",
	}, []string{"outcome"})

	// PersistenceTotal counts the terminal persistence status of generation
	// requests.
	PersistenceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytsum_persistence_total",
		Help: "Total number of generation requests, by persistence status.",
	}, []string{"status"})

	// StageDuration observes how long each pipeline stage takes.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytsum_stage_duration_seconds",
		Help:    "Duration of pipeline stages (metadata, generation, persistence).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})

	// MaintenanceRunsTotal counts scheduled maintenance runs by job and result.
	MaintenanceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytsum_maintenance_runs_total",
		Help: "Total number of maintenance job runs, by job and result.",
	}, []string{"job", "result"})
)

func RecordGeneration(outcome string) {
	GenerationRequestsTotal.WithLabelValues(outcome).Inc()
}

func RecordPersistence(status string) {
	PersistenceTotal.WithLabelValues(status).Inc()
}

func ObserveStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

func RecordMaintenanceRun(job, result string) {
	MaintenanceRunsTotal.WithLabelValues(job, result).Inc()
}
