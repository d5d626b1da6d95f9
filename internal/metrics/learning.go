package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initLearningMetrics() {
	m.feedbackEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_events_total",
			Help: "Total number of feedback events by type",
		},
		[]string{"type"},
	)

	m.updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learning_updates_total",
			Help: "Total number of learning updates by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	m.conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_conflicts_total",
			Help: "Total number of resolved update conflicts by kind",
		},
		[]string{"kind"},
	)

	m.protections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protections_total",
			Help: "Total number of memory protections by level",
		},
		[]string{"level"},
	)

	m.rehearsals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rehearsals_total",
			Help: "Total number of performed rehearsals",
		},
	)

	m.registry.MustRegister(m.feedbackEvents)
	m.registry.MustRegister(m.updates)
	m.registry.MustRegister(m.conflicts)
	m.registry.MustRegister(m.protections)
	m.registry.MustRegister(m.rehearsals)
}

// RecordFeedback counts an ingested feedback event.
func (m *Manager) RecordFeedback(feedbackType string) {
	if !m.enabled {
		return
	}
	m.feedbackEvents.WithLabelValues(feedbackType).Inc()
}

// RecordUpdate counts a learning update outcome ("applied", "failed", "dropped").
func (m *Manager) RecordUpdate(updateType, outcome string) {
	if !m.enabled {
		return
	}
	m.updates.WithLabelValues(updateType, outcome).Inc()
}

// RecordConflict counts a resolved conflict.
func (m *Manager) RecordConflict(kind string) {
	if !m.enabled {
		return
	}
	m.conflicts.WithLabelValues(kind).Inc()
}

// RecordProtection counts a protected memory.
func (m *Manager) RecordProtection(level string) {
	if !m.enabled {
		return
	}
	m.protections.WithLabelValues(level).Inc()
}

// AddRehearsals counts performed rehearsals.
func (m *Manager) AddRehearsals(n int) {
	if !m.enabled || n <= 0 {
		return
	}
	m.rehearsals.Add(float64(n))
}
