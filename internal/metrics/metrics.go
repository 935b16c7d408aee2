package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the platform emits. Construct once in the
// composition root with the process registry; tests pass a fresh registry.
type Metrics struct {
	// Audit verification (spec'd label sets)
	ChainValid           *prometheus.GaugeVec     // tenant, check_type
	VerificationDuration *prometheus.HistogramVec // check_type
	QueueLag             *prometheus.GaugeVec     // tenant
	RecordsChecked       *prometheus.CounterVec   // tenant, check_type

	// Audit pipeline
	RecordsWritten    *prometheus.CounterVec // tenant
	ExportsVerified   *prometheus.CounterVec // result
	PartitionsDropped prometheus.Counter

	// LLM routing and resilience
	RoutingDecisions *prometheus.CounterVec // task, tier
	RoutingFailovers *prometheus.CounterVec // provider
	BreakerState     *prometheus.GaugeVec   // provider (0 closed, 1 half_open, 2 open)
	DegradationLevel prometheus.Gauge       // 0 full, 1 secondary, 2 deterministic
	AcquireDenied    *prometheus.CounterVec // priority, reason
	QuotaExceeded    *prometheus.CounterVec // tenant_tier
	Escalations      prometheus.Counter

	// Autonomy safety
	AutonomyReductions *prometheus.CounterVec // rule_family
	FNFlagged          prometheus.Counter
	DriftOverall       prometheus.Gauge
	CanaryDecisions    *prometheus.CounterVec // dimension, decision

	// Detection
	DetectionsFired *prometheus.CounterVec // rule_id
	DetectionErrors *prometheus.CounterVec // rule_id

	// Embedding migration
	MigrationPoints     prometheus.Counter
	MigrationCheckpoint prometheus.Gauge
}

// New registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChainValid: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_audit_chain_valid",
			Help: "1 when the tenant's chain verified clean on the last check of this type, 0 otherwise.",
		}, []string{"tenant", "check_type"}),
		VerificationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_audit_verification_duration_seconds",
			Help:    "Duration of audit chain verification runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"check_type"}),
		QueueLag: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_audit_queue_lag_records",
			Help: "audit.events high-watermark minus max persisted sequence per tenant.",
		}, []string{"tenant"}),
		RecordsChecked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_records_checked_total",
			Help: "Audit records examined by verification checks.",
		}, []string{"tenant", "check_type"}),

		RecordsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_records_written_total",
			Help: "Audit records appended to tenant chains.",
		}, []string{"tenant"}),
		ExportsVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_cold_exports_total",
			Help: "Monthly cold-storage exports by verification result.",
		}, []string{"result"}),
		PartitionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_partitions_dropped_total",
			Help: "Warm partitions dropped after verified export.",
		}),

		RoutingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_llm_routing_decisions_total",
			Help: "Routing decisions by task and selected tier.",
		}, []string{"task", "tier"}),
		RoutingFailovers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_llm_routing_failovers_total",
			Help: "Decisions that recorded a provider failover.",
		}, []string{"provider"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_llm_breaker_state",
			Help: "Circuit breaker state per provider: 0 closed, 1 half_open, 2 open.",
		}, []string{"provider"}),
		DegradationLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_llm_degradation_level",
			Help: "0 full_capability, 1 secondary_active, 2 deterministic_only.",
		}),
		AcquireDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_llm_acquire_denied_total",
			Help: "Concurrency controller denials by priority and reason.",
		}, []string{"priority", "reason"}),
		QuotaExceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_llm_tenant_quota_exceeded_total",
			Help: "Tenant quota rejections by tenant tier.",
		}, []string{"tenant_tier"}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_llm_escalations_total",
			Help: "Low-confidence escalations to the reserve tier.",
		}),

		AutonomyReductions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_autonomy_reductions_total",
			Help: "Autonomy guard trips by rule family.",
		}, []string{"rule_family"}),
		FNFlagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_autonomy_fn_flagged_total",
			Help: "Auto-closures flagged as false negatives by the daily detector.",
		}),
		DriftOverall: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_drift_overall",
			Help: "Weighted Jensen-Shannon drift across source/technique/entity.",
		}),
		CanaryDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_canary_decisions_total",
			Help: "Canary evaluator outcomes by dimension.",
		}, []string{"dimension", "decision"}),

		DetectionsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_detections_fired_total",
			Help: "Detection rule results published to alerts.raw.",
		}, []string{"rule_id"}),
		DetectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_detection_errors_total",
			Help: "Detection rule evaluation failures.",
		}, []string{"rule_id"}),

		MigrationPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_embedding_migration_points_total",
			Help: "Vector points re-embedded by the migration job.",
		}),
		MigrationCheckpoint: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_embedding_migration_checkpoint",
			Help: "Point count at the last persisted migration checkpoint.",
		}),
	}
}
