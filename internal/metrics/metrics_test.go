package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())
	require.NotNil(t, m)
	assert.True(t, m.Enabled())
}

func TestNewManager_Disabled(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	assert.False(t, m.Enabled())

	// Every recorder is safe on a disabled manager.
	m.RecordFeedback("praise")
	m.RecordUpdate("explicit_rule", "applied")
	m.RecordConflict("explicit_vs_implicit")
	m.RecordProtection("elevated")
	m.AddRehearsals(2)
	m.ObserveRetrieval(time.Millisecond)
	m.AddConsolidated(1)
	m.AddForgotten(1)
	m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.NoError(t, m.StartServer(context.Background(), "127.0.0.1:0", "/metrics"))
}

func TestMetricsHandler(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordFeedback("praise")
	m.RecordUpdate("explicit_rule", "applied")
	m.RecordConflict("recent_vs_historical")
	m.RecordProtection("normal")
	m.AddRehearsals(3)
	m.ObserveRetrieval(2 * time.Millisecond)
	m.AddConsolidated(2)
	m.AddForgotten(1)
	m.RecordHTTPRequest("POST", "/api/v1/users/{userID}/feedback", "202", 5*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, want := range []string{
		`feedback_events_total{type="praise"} 1`,
		`learning_updates_total{outcome="applied",type="explicit_rule"} 1`,
		`integration_conflicts_total{kind="recent_vs_historical"} 1`,
		`protections_total{level="normal"} 1`,
		`rehearsals_total 3`,
		`memories_consolidated_total 2`,
		`memories_forgotten_total 1`,
		`retrieval_duration_seconds_count 1`,
		`http_requests_total{method="POST",path="/api/v1/users/{userID}/feedback",status="202"} 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestStartServerStopsWithContext(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, m.StartServer(ctx, "127.0.0.1:0", "/metrics"))
}
