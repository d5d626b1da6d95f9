package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initMemoryMetrics(cfg Config) {
	m.retrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retrieval_duration_seconds",
			Help:    "Memory retrieval duration in seconds",
			Buckets: cfg.RetrievalBuckets,
		},
	)

	m.consolidated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memories_consolidated_total",
			Help: "Total number of memories removed by consolidation",
		},
	)

	m.forgotten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memories_forgotten_total",
			Help: "Total number of memories removed by forgetting",
		},
	)

	m.registry.MustRegister(m.retrievalDuration)
	m.registry.MustRegister(m.consolidated)
	m.registry.MustRegister(m.forgotten)
}

// ObserveRetrieval records one retrieval.
func (m *Manager) ObserveRetrieval(d time.Duration) {
	if !m.enabled {
		return
	}
	m.retrievalDuration.Observe(d.Seconds())
}

// AddConsolidated counts memories merged away.
func (m *Manager) AddConsolidated(n int) {
	if !m.enabled || n <= 0 {
		return
	}
	m.consolidated.Add(float64(n))
}

// AddForgotten counts memories forgotten.
func (m *Manager) AddForgotten(n int) {
	if !m.enabled || n <= 0 {
		return
	}
	m.forgotten.Add(float64(n))
}
