// Package store provides the repository interfaces and their SQLite and Badger implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/adaptive-memory/internal/model"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ListParams holds parameters for listing memories.
type ListParams struct {
	UserID string
	Kind   model.Kind // empty means every kind
	Limit  int        // 0 means no limit
}

// UpdateRecord is an audited learning update.
type UpdateRecord struct {
	Update     model.LearningUpdate `json:"update"`
	Applied    bool                 `json:"applied"`
	Error      string               `json:"error,omitempty"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// AuditCounts holds per-user audit log sizes.
type AuditCounts struct {
	FeedbackEvents int `json:"feedback_events"`
	Interactions   int `json:"interactions"`
	Updates        int `json:"updates"`
	AppliedUpdates int `json:"applied_updates"`
}

// MemoryRepository stores memory entries. Lists are ordered by last access, newest first.
type MemoryRepository interface {
	// SaveMemory inserts or replaces m, assigning an ID when empty.
	SaveMemory(ctx context.Context, m *model.Memory) error
	GetMemory(ctx context.Context, id string) (*model.Memory, error)
	ListMemories(ctx context.Context, p ListParams) ([]model.Memory, error)
	// UpdateAccess increments the access count and stamps the access time.
	UpdateAccess(ctx context.Context, id string) error
	// UpdateEmbedding replaces only the stored embedding.
	UpdateEmbedding(ctx context.Context, id string, embedding []float64) error
	// DeleteMemory removes a memory. Deleting a missing memory is not an error.
	DeleteMemory(ctx context.Context, id string) error
}

// PreferenceRepository stores preference nodes. Lists are ordered by strength, strongest first.
type PreferenceRepository interface {
	SavePreference(ctx context.Context, p *model.Preference) error
	GetPreference(ctx context.Context, id string) (*model.Preference, error)
	// ListPreferences lists a user's preferences; an empty category means all.
	ListPreferences(ctx context.Context, userID, category string) ([]model.Preference, error)
	UpdateStrength(ctx context.Context, id string, strength float64) error
}

// RuleRepository stores rules. Lists are ordered by strength, strongest first.
type RuleRepository interface {
	SaveRule(ctx context.Context, r *model.Rule) error
	ListRules(ctx context.Context, userID string) ([]model.Rule, error)
}

// AuditLog persists the raw inputs and outputs of the learning pipeline.
type AuditLog interface {
	SaveFeedback(ctx context.Context, e *model.FeedbackEvent) error
	SaveInteraction(ctx context.Context, e *model.InteractionEvent) error
	// RecentInteractions returns up to limit interactions, newest first.
	RecentInteractions(ctx context.Context, userID string, limit int) ([]model.InteractionEvent, error)
	SaveUpdate(ctx context.Context, rec UpdateRecord) error
	// ListUpdates returns up to limit audited updates, newest first.
	ListUpdates(ctx context.Context, userID string, limit int) ([]UpdateRecord, error)
	CountAudit(ctx context.Context, userID string) (AuditCounts, error)
}

// Repository is the full storage surface.
type Repository interface {
	MemoryRepository
	PreferenceRepository
	RuleRepository
	AuditLog

	Close() error
}

// Sortable UTC layout for TEXT columns and keys.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
