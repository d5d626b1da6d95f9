package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/adaptive-memory/internal/config"
	"github.com/rcliao/adaptive-memory/internal/memory"
	"github.com/rcliao/adaptive-memory/internal/metrics"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/preference"
	"github.com/rcliao/adaptive-memory/internal/store"
)

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "engine.db")
	return cfg
}

func openEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := Open(cfg, nil, metrics.NoOpManager())
	require.NoError(t, err)
	e.SetClock(func() time.Time { return testNow })
	return e
}

func TestProcessFeedbackCorrection(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close() })

	pref, _, err := e.Preferences().AddPreference(ctx, preference.AddParams{
		UserID: "u1", Category: "communication", Text: "send long detailed reports", Strength: 0.8, Confidence: 0.8,
	})
	require.NoError(t, err)

	report, err := e.ProcessFeedback(ctx, &model.FeedbackEvent{
		UserID: "u1",
		Type:   model.FeedbackDirectCorrection,
		Data: map[string]string{
			"wrong_behavior":   "send long detailed reports",
			"correct_behavior": "send a short summary",
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Updates, 1)
	assert.Equal(t, []string{report.Updates[0].ID}, report.Applied)
	assert.Equal(t, 0.3, report.Updates[0].LearningRate)

	got, err := e.Repository().GetPreference(ctx, pref.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.56, got.Strength, 1e-9)

	results, err := e.Memory().Retrieve(ctx, memory.RetrieveParams{UserID: "u1", Query: "detailed reports", Kinds: []model.Kind{model.KindProcedural}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Memory.Content, "Instead do send a short summary")

	rules, err := e.Repository().ListRules(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "When send long detailed reports is attempted", rules[0].Condition)

	st, err := e.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.AuditCounts{FeedbackEvents: 1, Updates: 1, AppliedUpdates: 1}, st.Audit)
	assert.Equal(t, 1, st.ByKind[model.KindProcedural])
}

func TestProcessFeedbackAuditsDroppedUpdates(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close() })

	report, err := e.ProcessFeedback(ctx, &model.FeedbackEvent{UserID: "u1", Type: model.FeedbackRuleDefinition})
	require.NoError(t, err)
	assert.Empty(t, report.Updates)
	assert.Empty(t, report.Applied)

	records, err := e.Updates(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Applied)
	assert.Equal(t, errDropped.Error(), records[0].Error)
}

func TestProcessFeedbackRejectsUnknownType(t *testing.T) {
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close() })

	_, err := e.ProcessFeedback(context.Background(), &model.FeedbackEvent{UserID: "u1", Type: "shrug"})
	assert.Error(t, err)
	_, err = e.ProcessFeedback(context.Background(), &model.FeedbackEvent{Type: model.FeedbackPraise})
	assert.Error(t, err)
}

func interaction() *model.InteractionEvent {
	return &model.InteractionEvent{
		UserID:          "u1",
		EventType:       "chat",
		Context:         model.NewContext(testNow),
		DurationSeconds: 60,
		Engagement:      0.5,
	}
}

func TestProcessInteractionLearnsHabits(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close() })

	for i := 0; i < 9; i++ {
		report, err := e.ProcessInteraction(ctx, interaction())
		require.NoError(t, err)
		assert.Empty(t, report.Updates)
	}
	report, err := e.ProcessInteraction(ctx, interaction())
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)

	prefs, err := e.Preferences().Preferences(ctx, "u1", "temporal", 0)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "Prefers morning interactions", prefs[0].Text)
	assert.Equal(t, model.PreferenceInferred, prefs[0].Source)
}

func TestProcessInteractionWarmsFromAudit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first := openEngine(t, cfg)
	for i := 0; i < 9; i++ {
		_, err := first.ProcessInteraction(ctx, interaction())
		require.NoError(t, err)
	}
	require.NoError(t, first.Close())

	second := openEngine(t, cfg)
	t.Cleanup(func() { second.Close() })
	report, err := second.ProcessInteraction(ctx, interaction())
	require.NoError(t, err)
	assert.Len(t, report.Applied, 1, "nine stored interactions plus this one reach the inference window")
}

func TestRehearseWithoutSchedule(t *testing.T) {
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close() })

	n, err := e.Rehearse(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openEngine(t, testConfig(t))
	t.Cleanup(func() { src.Close() })

	_, err := src.Memory().Store(ctx, memory.StoreParams{UserID: "u1", Content: "Lunch with Sam on Friday", Kind: model.KindEpisodic, Importance: 0.4})
	require.NoError(t, err)
	_, _, err = src.Preferences().AddPreference(ctx, preference.AddParams{UserID: "u1", Text: "likes tea", Strength: 0.5, Confidence: 0.5})
	require.NoError(t, err)

	snap, err := src.Export(ctx, "u1")
	require.NoError(t, err)

	dst := openEngine(t, testConfig(t))
	t.Cleanup(func() { dst.Close() })
	res, err := dst.Import(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, store.ImportResult{Memories: 1, Preferences: 1}, res)

	st, err := dst.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalMemories)
	assert.Equal(t, 1, st.Preferences)
}

func TestMemoryWritesHoldUserLock(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close() })

	writes := map[string]func() error{
		"store": func() error {
			_, err := e.StoreMemory(ctx, memory.StoreParams{UserID: "u1", Content: "Standup at ten", Kind: model.KindEpisodic, Importance: 0.5})
			return err
		},
		"consolidate": func() error {
			_, err := e.Consolidate(ctx, "u1")
			return err
		},
		"forget": func() error {
			_, err := e.Forget(ctx, "u1", 0)
			return err
		},
		"add preference": func() error {
			_, _, err := e.AddPreference(ctx, preference.AddParams{UserID: "u1", Text: "likes tea", Strength: 0.5, Confidence: 0.5})
			return err
		},
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			unlock := e.lock("u1")
			done := make(chan error, 1)
			go func() { done <- write() }()

			select {
			case <-done:
				unlock()
				t.Fatal("write finished while the user lock was held")
			case <-time.After(50 * time.Millisecond):
			}
			unlock()
			require.NoError(t, <-done)
		})
	}
}

func TestDeleteMemoryChecksOwner(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, testConfig(t))
	t.Cleanup(func() { e.Close() })

	m, err := e.StoreMemory(ctx, memory.StoreParams{UserID: "u1", Content: "Lunch with Sam", Kind: model.KindEpisodic, Importance: 0.4})
	require.NoError(t, err)

	assert.ErrorIs(t, e.DeleteMemory(ctx, "u2", m.ID), store.ErrNotFound)
	_, err = e.Repository().GetMemory(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, e.DeleteMemory(ctx, "u1", m.ID))
	_, err = e.Repository().GetMemory(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, e.DeleteMemory(ctx, "u1", m.ID), store.ErrNotFound)
}
