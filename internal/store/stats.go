package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rcliao/adaptive-memory/internal/model"
)

// Stats holds per-user storage statistics.
type Stats struct {
	Path          string             `json:"path"`
	SizeBytes     int64              `json:"size_bytes"`
	UserID        string             `json:"user_id"`
	TotalMemories int                `json:"total_memories"`
	ByKind        map[model.Kind]int `json:"by_kind"`
	Preferences   int                `json:"preferences"`
	Rules         int                `json:"rules"`
	Audit         AuditCounts        `json:"audit"`
}

// CollectStats counts a user's stored entities. path is the database file or directory.
func CollectStats(ctx context.Context, r Repository, userID, path string) (*Stats, error) {
	st := &Stats{Path: path, UserID: userID, ByKind: map[model.Kind]int{}}
	st.SizeBytes = diskSize(path)

	memories, err := r.ListMemories(ctx, ListParams{UserID: userID})
	if err != nil {
		return nil, err
	}
	st.TotalMemories = len(memories)
	for _, m := range memories {
		st.ByKind[m.Kind]++
	}

	prefs, err := r.ListPreferences(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	st.Preferences = len(prefs)

	rules, err := r.ListRules(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.Rules = len(rules)

	if st.Audit, err = r.CountAudit(ctx, userID); err != nil {
		return nil, err
	}
	return st, nil
}

func diskSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
