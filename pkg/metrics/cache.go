package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goclaw/recall/pkg/memory"
)

// CacheStatsSource exposes counters of an in-process result cache.
type CacheStatsSource interface {
	Stats() memory.CacheStats
}

// initCacheMetrics initializes result cache metrics.
func (m *Manager) initCacheMetrics() {
	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of result cache lookups by result",
		},
		[]string{"result"},
	)
	m.registry.MustRegister(m.cacheLookups)
}

// RecordCacheLookup records a result cache hit or miss.
func (m *Manager) RecordCacheLookup(hit bool) {
	if !m.enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RegisterCacheStats exports size, eviction and expiry counters read from
// source at scrape time.
func (m *Manager) RegisterCacheStats(source CacheStatsSource) error {
	if !m.enabled || source == nil {
		return nil
	}
	return registerAll(m.registry,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of entries in the result cache",
		}, func() float64 { return float64(source.Stats().Size) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of result cache entries evicted by capacity",
		}, func() float64 { return float64(source.Stats().Evictions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expirations_total",
			Help:      "Total number of result cache entries dropped by TTL",
		}, func() float64 { return float64(source.Stats().Expired) }),
	)
}

func registerAll(registry *prometheus.Registry, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
