package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IncidentsTotal tracks incidents received per category
	IncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healer_incidents_total",
			Help: "Total number of error incidents received",
		},
		[]string{"category"},
	)

	// IncidentsIgnored tracks incidents dropped by the noise filter
	IncidentsIgnored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healer_incidents_ignored_total",
			Help: "Total number of incidents dropped as noise",
		},
	)

	// FixesTotal tracks fix executions per strategy kind and outcome
	FixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healer_fixes_total",
			Help: "Total number of fix strategy executions",
		},
		[]string{"kind", "outcome"},
	)

	// RetriesTotal tracks task retries per outcome
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healer_retries_total",
			Help: "Total number of task retries",
		},
		[]string{"outcome"},
	)

	// HealingDuration tracks end-to-end incident healing time
	HealingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healer_healing_duration_seconds",
			Help:    "End-to-end healing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	// HealthScore tracks the current aggregate health score
	HealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healer_health_score",
			Help: "Aggregate system health score in [0,1]",
		},
	)

	// ManualInterventions tracks incidents escalated to humans
	ManualInterventions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healer_manual_interventions_total",
			Help: "Total number of incidents escalated for manual intervention",
		},
	)

	// EmergencyActivations tracks emergency healing activations
	EmergencyActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healer_emergency_activations_total",
			Help: "Total number of emergency healing activations",
		},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healer_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// IntakeQueueDepth tracks pending messages on the incident intake queue
	IntakeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healer_intake_queue_depth",
			Help: "Number of pending messages on the incident intake queue",
		},
	)
)
