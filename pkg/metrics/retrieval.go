package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initRetrievalMetrics initializes retrieval pipeline metrics.
func (m *Manager) initRetrievalMetrics(cfg Config) {
	m.retrievals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total number of retrieve calls by outcome",
		},
		[]string{"status"},
	)

	m.retrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieve latency in seconds",
			Buckets:   cfg.RetrievalDurationBuckets,
		},
		[]string{"status"},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_duration_seconds",
			Help:      "Latency of each retrieval pipeline stage in seconds",
			Buckets:   cfg.StageDurationBuckets,
		},
		[]string{"stage"},
	)

	m.candidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Number of candidates produced per source",
			Buckets:   cfg.CandidateBuckets,
		},
		[]string{"source"},
	)

	m.rerankFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Total number of reranks served by the fallback ordering",
		},
		[]string{"reason"},
	)

	m.queryExpansions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_expansions_total",
			Help:      "Total number of queries rewritten by expansion",
		},
	)

	m.indexMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_mutations_total",
			Help:      "Total number of index mutations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	m.registry.MustRegister(
		m.retrievals,
		m.retrievalDuration,
		m.stageDuration,
		m.candidates,
		m.rerankFallbacks,
		m.queryExpansions,
		m.indexMutations,
	)
}

// RecordRetrieval records one retrieve call.
func (m *Manager) RecordRetrieval(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.retrievals.WithLabelValues(status).Inc()
	m.retrievalDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStageDuration records the latency of one pipeline stage.
func (m *Manager) RecordStageDuration(stage string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordCandidates records how many candidates a source produced.
func (m *Manager) RecordCandidates(source string, count int) {
	if !m.enabled {
		return
	}
	m.candidates.WithLabelValues(source).Observe(float64(count))
}

// RecordRerankFallback records a rerank served without the scorer.
func (m *Manager) RecordRerankFallback(reason string) {
	if !m.enabled {
		return
	}
	m.rerankFallbacks.WithLabelValues(reason).Inc()
}

// RecordQueryExpansion records an expanded query.
func (m *Manager) RecordQueryExpansion() {
	if !m.enabled {
		return
	}
	m.queryExpansions.Inc()
}

// RecordIndexMutation records an index mutation.
func (m *Manager) RecordIndexMutation(operation, status string) {
	if !m.enabled {
		return
	}
	m.indexMutations.WithLabelValues(operation, status).Inc()
}
