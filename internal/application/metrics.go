package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// syncRuns counts finished sync operations.
	// Labels: trigger (manual, scheduled, approval), outcome (success, partial, error)
	syncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of finished sync operations",
		},
		[]string{"trigger", "outcome"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "decisionlog",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of sync operations in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// syncRejected counts sync attempts refused because the lock was held.
	syncRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "sync",
			Name:      "rejected_total",
			Help:      "Total number of sync attempts refused because another run held the lock",
		},
	)

	// fetchBacklogSkipped counts incremental fetches that advanced the
	// cursor past items they did not read.
	fetchBacklogSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "fetch",
			Name:      "backlog_skipped_total",
			Help:      "Total number of truncated incremental fetches that skipped older items",
		},
	)

	// sieveResults counts sieve verdicts.
	// Labels: result (in, out, noise)
	sieveResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "sieve",
			Name:      "results_total",
			Help:      "Total number of artifacts scored by the sieve",
		},
		[]string{"result"},
	)

	// providerLatency tracks provider call latency.
	// Labels: provider, role (primary, fallback)
	providerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "decisionlog",
			Subsystem: "extraction",
			Name:      "provider_duration_seconds",
			Help:      "Duration of text-generation provider calls in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"provider", "role"},
	)

	// providerFailures counts failed provider attempts.
	// Labels: provider, role, kind (timeout, transport, status, rate_limited, malformed, schema)
	providerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "extraction",
			Name:      "provider_failures_total",
			Help:      "Total number of failed provider attempts",
		},
		[]string{"provider", "role", "kind"},
	)

	extractionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "extraction",
			Name:      "failed_candidates_total",
			Help:      "Total number of candidates marked failed after both providers failed",
		},
	)

	// extractionCostUSD accumulates extraction spend.
	// Labels: provider
	extractionCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "extraction",
			Name:      "cost_usd_total",
			Help:      "Total extraction spend in US dollars",
		},
		[]string{"provider"},
	)

	budgetExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "decisionlog",
			Subsystem: "governor",
			Name:      "budget_exhausted_total",
			Help:      "Total number of runs that stopped extracting because the daily budget was spent",
		},
	)
)

// RegisterHostClientGauge exposes the size of p's client cache on reg.
func RegisterHostClientGauge(reg prometheus.Registerer, p *HostClientProvider) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "decisionlog",
			Subsystem: "github",
			Name:      "clients_cached",
			Help:      "Number of cached GitHub clients, one per distinct token",
		},
		func() float64 { return float64(p.Len()) },
	)
}
