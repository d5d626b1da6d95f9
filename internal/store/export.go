package store

import (
	"context"
	"time"

	"github.com/rcliao/adaptive-memory/internal/model"
)

// SnapshotVersion is the current export format version.
const SnapshotVersion = 1

// Snapshot is a portable copy of one user's knowledge.
type Snapshot struct {
	Version     int                `json:"version" yaml:"version"`
	UserID      string             `json:"user_id" yaml:"user_id"`
	ExportedAt  time.Time          `json:"exported_at" yaml:"exported_at"`
	Memories    []model.Memory     `json:"memories" yaml:"memories"`
	Preferences []model.Preference `json:"preferences" yaml:"preferences"`
	Rules       []model.Rule       `json:"rules" yaml:"rules"`
}

// ImportResult counts imported entities.
type ImportResult struct {
	Memories    int `json:"memories"`
	Preferences int `json:"preferences"`
	Rules       int `json:"rules"`
}

// Export collects everything stored for userID. Embeddings are dropped since
// they are only meaningful against the vocabulary they were built with.
func Export(ctx context.Context, r Repository, userID string) (*Snapshot, error) {
	snap := &Snapshot{Version: SnapshotVersion, UserID: userID, ExportedAt: time.Now().UTC()}

	memories, err := r.ListMemories(ctx, ListParams{UserID: userID})
	if err != nil {
		return nil, err
	}
	for i := range memories {
		memories[i].Embedding = nil
	}
	snap.Memories = memories

	if snap.Preferences, err = r.ListPreferences(ctx, userID, ""); err != nil {
		return nil, err
	}
	if snap.Rules, err = r.ListRules(ctx, userID); err != nil {
		return nil, err
	}
	return snap, nil
}

// Import upserts a snapshot. IDs are preserved, so importing twice is a no-op.
func Import(ctx context.Context, r Repository, snap *Snapshot) (ImportResult, error) {
	var res ImportResult
	for i := range snap.Memories {
		m := snap.Memories[i]
		if m.UserID == "" {
			m.UserID = snap.UserID
		}
		m.Importance = model.Clamp01(m.Importance)
		if err := r.SaveMemory(ctx, &m); err != nil {
			return res, err
		}
		res.Memories++
	}
	for i := range snap.Preferences {
		p := snap.Preferences[i]
		if p.UserID == "" {
			p.UserID = snap.UserID
		}
		if err := r.SavePreference(ctx, &p); err != nil {
			return res, err
		}
		res.Preferences++
	}
	for i := range snap.Rules {
		rule := snap.Rules[i]
		if rule.UserID == "" {
			rule.UserID = snap.UserID
		}
		if err := r.SaveRule(ctx, &rule); err != nil {
			return res, err
		}
		res.Rules++
	}
	return res, nil
}
