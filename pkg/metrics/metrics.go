package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flotilla_jobs_active",
			Help: "Number of jobs currently tracked in a non-terminal state",
		},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_jobs_total",
			Help: "Total number of jobs reaching a terminal state, by status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flotilla_job_duration_seconds",
			Help:    "Wall-clock duration of successful jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	// Artifact metrics
	ArtifactsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flotilla_artifacts_total",
			Help: "Number of live artifacts",
		},
	)

	ArtifactBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flotilla_artifact_bytes",
			Help: "Total bytes of live artifact content",
		},
	)

	ArtifactEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flotilla_artifact_evictions_total",
			Help: "Total number of artifacts evicted under storage pressure",
		},
	)

	ArtifactExpirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flotilla_artifact_expirations_total",
			Help: "Total number of artifacts removed by TTL expiry",
		},
	)

	// Quota metrics
	QuotaChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_quota_checks_total",
			Help: "Total number of quota admission checks, by outcome",
		},
		[]string{"outcome"},
	)

	QuotaBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_quota_breaches_total",
			Help: "Total number of quota warning/exceeded signals, by severity",
		},
		[]string{"severity"},
	)

	// Failover metrics
	RegionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flotilla_region_state",
			Help: "Current failover state per region (1 for the active state)",
		},
		[]string{"region", "state"},
	)

	FailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flotilla_failovers_total",
			Help: "Total number of failover transitions, by direction",
		},
		[]string{"region", "direction"},
	)

	// Idle manager metrics
	NodesSleeping = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flotilla_nodes_sleeping",
			Help: "Number of nodes currently sleeping",
		},
	)

	IdleSavingsCents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flotilla_idle_savings_cents_total",
			Help: "Accumulated estimated cost savings from node sleep, in cents",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(ArtifactsTotal)
	prometheus.MustRegister(ArtifactBytes)
	prometheus.MustRegister(ArtifactEvictions)
	prometheus.MustRegister(ArtifactExpirations)
	prometheus.MustRegister(QuotaChecks)
	prometheus.MustRegister(QuotaBreaches)
	prometheus.MustRegister(RegionState)
	prometheus.MustRegister(FailoversTotal)
	prometheus.MustRegister(NodesSleeping)
	prometheus.MustRegister(IdleSavingsCents)
}

// SetRegionState updates the per-region state gauge so exactly one state
// label carries the value 1.
func SetRegionState(region string, state string) {
	states := []string{"normal", "degraded", "failing_over", "failed_over", "failing_back"}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		RegionState.WithLabelValues(region, s).Set(v)
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
