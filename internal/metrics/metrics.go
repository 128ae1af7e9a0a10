// Package metrics registers the Prometheus metrics for the indexing
// engine and exposes small helpers used by internal/core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registerer is the subset of prometheus.Registerer that New needs. It is
// satisfied by *prometheus.Registry and by prometheus.DefaultRegisterer,
// and lets tests inject a fresh registry rather than polluting the global
// default.
type Registerer = prometheus.Registerer

// Metrics holds every metric owned by the indexing engine. A single
// instance is created in New using promauto.With(reg), so every
// registration targets the caller's registry instead of the package
// default.
type Metrics struct {
	// IngestSucceeded counts documents indexed without error.
	IngestSucceeded prometheus.Counter
	// IngestSkipped counts documents skipped for a recoverable per-item
	// reason (duplicate, empty after chunking, unparsable, missing).
	IngestSkipped prometheus.Counter
	// IngestFailed counts documents that aborted a create_index call.
	IngestFailed prometheus.Counter

	// DumpsTotal counts memshard-to-disk dumps across all collections.
	DumpsTotal prometheus.Counter

	// EmbedBatchDuration records the wall-clock latency of a single
	// embedding sub-batch HTTP call.
	EmbedBatchDuration prometheus.Histogram

	// QueryDuration records the wall-clock latency of vector_search,
	// from query embed through merged results.
	QueryDuration prometheus.Histogram
}

// New registers and returns a Metrics against reg. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests that need to gather in isolation.
func New(reg Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "localdex",
			Subsystem: "ingest",
			Name:      "documents_succeeded_total",
			Help:      "Total number of documents successfully indexed.",
		}),
		IngestSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "localdex",
			Subsystem: "ingest",
			Name:      "documents_skipped_total",
			Help:      "Total number of documents skipped for a recoverable per-item error.",
		}),
		IngestFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "localdex",
			Subsystem: "ingest",
			Name:      "documents_failed_total",
			Help:      "Total number of documents that aborted a create_index call.",
		}),
		DumpsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "localdex",
			Subsystem: "vectorindex",
			Name:      "dumps_total",
			Help:      "Total number of in-memory shard dumps to disk across all collections.",
		}),
		EmbedBatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "localdex",
			Subsystem: "embedclient",
			Name:      "batch_duration_seconds",
			Help:      "Latency of a single embedding sub-batch HTTP call.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "localdex",
			Subsystem: "query",
			Name:      "search_duration_seconds",
			Help:      "Latency of vector_search from query embed through merged results.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// StartQuery returns a func to call when a vector_search call completes;
// it records the elapsed time into QueryDuration.
func (m *Metrics) StartQuery() func() {
	start := time.Now()
	return func() {
		m.QueryDuration.Observe(time.Since(start).Seconds())
	}
}
