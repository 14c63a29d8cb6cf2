// Package observability groups the Prometheus instruments emitted by the
// lifecycle and retrieval engines.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the engine.
// A nil *Metrics is valid and turns every method into a no-op, so library
// users who do not scrape metrics pay nothing.
type Metrics struct {
	RecordsConsolidated prometheus.Counter
	RecordsForgotten    prometheus.Counter
	RecordsDecayed      prometheus.Counter
	BatchErrors         *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	SearchDomainErrors  *prometheus.CounterVec
	SearchLatency       prometheus.Histogram
}

// NewMetrics registers and returns the instrument set under the given
// namespace (e.g. "tiermem").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RecordsConsolidated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_consolidated_total",
			Help:      "Records promoted to a higher phase by consolidation.",
		}),
		RecordsForgotten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_forgotten_total",
			Help:      "Records transitioned to the forgotten phase.",
		}),
		RecordsDecayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decayed_total",
			Help:      "Records whose strength was attenuated by decay.",
		}),
		BatchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_errors_total",
			Help:      "Per-record consolidation failures by kind.",
		}, []string{"kind"}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one consolidation batch.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		SearchDomainErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_domain_errors_total",
			Help:      "Cross-tier sub-query failures by domain and cause.",
		}, []string{"domain", "cause"}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "End-to-end latency of cross-tier searches.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// ObserveBatch records the outcome counters of one consolidation batch.
func (m *Metrics) ObserveBatch(consolidated, forgotten, decayed int, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordsConsolidated.Add(float64(consolidated))
	m.RecordsForgotten.Add(float64(forgotten))
	m.RecordsDecayed.Add(float64(decayed))
	m.BatchDuration.Observe(d.Seconds())
}

// CountBatchError records one per-record consolidation failure.
func (m *Metrics) CountBatchError(kind string) {
	if m == nil {
		return
	}
	m.BatchErrors.WithLabelValues(kind).Inc()
}

// CountSearchDomainError records one sub-query failure or timeout.
func (m *Metrics) CountSearchDomainError(domain, cause string) {
	if m == nil {
		return
	}
	m.SearchDomainErrors.WithLabelValues(domain, cause).Inc()
}

// ObserveSearch records the latency of one cross-tier search.
func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.SearchLatency.Observe(d.Seconds())
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
