package retriever

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the retrieval pipeline.
type Metrics struct {
	// RetrievalsTotal counts retrieve calls by outcome
	// (ok, empty_query, error).
	RetrievalsTotal *prometheus.CounterVec

	// RetrievalDuration observes end-to-end retrieve latency.
	RetrievalDuration prometheus.Histogram

	// StaleIndexHitsTotal counts vector hits dropped at hydration
	// because their primary record is gone.
	StaleIndexHitsTotal prometheus.Counter

	// UsageUpdatesTotal counts background usage-tracking writes by
	// outcome (ok, error, dropped).
	UsageUpdatesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the retrieval metrics. sync.Once
// guards against duplicate collector registration when multiple
// retrievers share a process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RetrievalsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contextcore_retrievals_total",
					Help: "Total retrieve calls by outcome",
				},
				[]string{"outcome"},
			),
			RetrievalDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "contextcore_retrieval_duration_seconds",
					Help:    "End-to-end retrieve latency in seconds",
					Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
				},
			),
			StaleIndexHitsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "contextcore_stale_index_hits_total",
					Help: "Vector index hits dropped because the primary record no longer exists",
				},
			),
			UsageUpdatesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contextcore_usage_updates_total",
					Help: "Background usage-tracking writes by outcome",
				},
				[]string{"outcome"},
			),
		}
	})
	return globalMetrics
}
