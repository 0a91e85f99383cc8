// Package metrics exposes Prometheus counters and histograms for the
// pipeline (SPEC_FULL.md §C "Metrics and tracing" supplemented feature):
// per-stage duration, cache hit/miss, per-clip failure counts, and
// concurrency gate occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector HAP registers. A single instance is
// shared process-wide and passed explicitly to the components that record
// into it, matching the no-ambient-global rule.
type Metrics struct {
	StageDuration      *prometheus.HistogramVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	ClipFailures       *prometheus.CounterVec
	ConcurrencyGateInUse prometheus.Gauge
}

// New creates and registers HAP's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hap",
			Name:      "stage_duration_seconds",
			Help:      "Duration of a pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hap",
			Name:      "transcription_cache_hits_total",
			Help:      "Transcription cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hap",
			Name:      "transcription_cache_misses_total",
			Help:      "Transcription cache misses.",
		}),
		ClipFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hap",
			Name:      "clip_failures_total",
			Help:      "Per-clip failures by state.",
		}, []string{"state"}),
		ConcurrencyGateInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hap",
			Name:      "concurrency_gate_in_use",
			Help:      "Number of per-clip pipeline slots currently occupied.",
		}),
	}

	reg.MustRegister(m.StageDuration, m.CacheHits, m.CacheMisses, m.ClipFailures, m.ConcurrencyGateInUse)
	return m
}

// ObserveStage records how long a named pipeline stage took.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
