// ABOUTME: Prometheus instrumentation for reconciliation passes and remote calls
// ABOUTME: Registered on the default registry and served by the metrics listener
package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolodex_reconcile_passes_total",
		Help: "Reconciliation passes by operation and outcome",
	}, []string{"operation", "outcome"})

	remoteCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolodex_remote_calls_total",
		Help: "Remote write calls by operation and result",
	}, []string{"operation", "result"})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolodex_items_total",
		Help: "Contacts processed by outcome",
	}, []string{"outcome"})

	staleLookupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rolodex_cache_stale_lookups_total",
		Help: "Creates sent without a fresh cache entry for the phone",
	})

	warmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rolodex_cache_warm_duration_seconds",
		Help:    "Duration of reconciliation cache warms",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)

func observeWarm(started time.Time) {
	warmDuration.Observe(time.Since(started).Seconds())
}

func countPass(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	passesTotal.WithLabelValues(operation, outcome).Inc()
}

func countCall(operation, result string) {
	remoteCallsTotal.WithLabelValues(operation, result).Inc()
}

func countStaleLookup() {
	staleLookupsTotal.Inc()
}

func countItems(outcome string, n int) {
	if n > 0 {
		itemsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}
