package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/preference"
	"github.com/rcliao/adaptive-memory/internal/store"
	"github.com/rcliao/adaptive-memory/internal/vector"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mem  *Store
	repo *store.SQLiteStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ix, err := vector.New(repo, vector.DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(ix.Close)
	clock := func() time.Time { return testNow }
	ix.SetClock(clock)

	mem := New(repo, ix, DefaultOptions(), nil, nil)
	mem.SetClock(clock)
	return fixture{mem: mem, repo: repo}
}

func (f fixture) all(t *testing.T, user string) []model.Memory {
	t.Helper()
	ms, err := f.repo.ListMemories(context.Background(), store.ListParams{UserID: user})
	require.NoError(t, err)
	return ms
}

func TestStoreValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "x", Kind: model.KindPreference})
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "x", Kind: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "   ", Kind: model.KindSemantic})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestStoreAndRetrieve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "Meeting with client about project", Kind: model.KindSemantic, Importance: 0.8})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.NotEmpty(t, m.Embedding)
	assert.Equal(t, testNow, m.CreatedAt)

	results, err := f.mem.Retrieve(ctx, RetrieveParams{UserID: "u1", Query: "client project meeting", TopK: 5, RecencyWeight: 0.3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, m.ID, results[0].Memory.ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, 1, results[0].Memory.AccessCount)

	got, err := f.repo.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestRetrieveMergesKindsAndLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []StoreParams{
		{Content: "espresso tastes bitter", Kind: model.KindEpisodic, Importance: 0.9},
		{Content: "espresso machine manual", Kind: model.KindSemantic, Importance: 0.5},
		{Content: "clean espresso grinder weekly", Kind: model.KindProcedural, Importance: 0.1},
	} {
		p.UserID = "u1"
		_, err := f.mem.Store(ctx, p)
		require.NoError(t, err)
	}

	results, err := f.mem.Retrieve(ctx, RetrieveParams{UserID: "u1", Query: "espresso", TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	results, err = f.mem.Retrieve(ctx, RetrieveParams{UserID: "u1", Query: "espresso", Kinds: []model.Kind{model.KindProcedural}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.KindProcedural, results[0].Memory.Kind)

	_, err = f.mem.Retrieve(ctx, RetrieveParams{UserID: "u1", Query: "espresso", Kinds: []model.Kind{"bogus"}})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestConsolidateMergesDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "drinks espresso daily morning", Kind: model.KindEpisodic, Importance: 0.4})
	require.NoError(t, err)
	high, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "drinks espresso daily morning", Kind: model.KindSemantic, Importance: 0.6})
	require.NoError(t, err)
	_, err = f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "database migration plan", Kind: model.KindSemantic, Importance: 0.5})
	require.NoError(t, err)
	_, err = f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "tomato garden summer", Kind: model.KindEpisodic, Importance: 0.5})
	require.NoError(t, err)

	removed, err := f.mem.Consolidate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.repo.GetMemory(ctx, low.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	kept, err := f.repo.GetMemory(ctx, high.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, kept.Importance, 1e-9)
	assert.Len(t, f.all(t, "u1"), 3)

	removed, err = f.mem.Consolidate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Len(t, f.all(t, "u1"), 3)
}

func TestConsolidateTieBreaksOnAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		m, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "weekly report friday", Kind: model.KindSemantic, Importance: 0.5})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	for _, c := range []string{"garden tomatoes", "bicycle repair", "piano lessons"} {
		_, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: c, Kind: model.KindSemantic, Importance: 0.5})
		require.NoError(t, err)
	}
	require.NoError(t, f.repo.UpdateAccess(ctx, ids[1]))

	removed, err := f.mem.Consolidate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = f.repo.GetMemory(ctx, ids[1])
	assert.NoError(t, err)
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := testNow.Add(-40 * 24 * time.Hour)
	recent := testNow.Add(-10 * 24 * time.Hour)

	seed := []model.Memory{
		{Content: "stale", Importance: 0.05, LastAccessedAt: old, AccessCount: 0},
		{Content: "stale but used", Importance: 0.05, LastAccessedAt: old, AccessCount: 3},
		{Content: "fresh", Importance: 0.05, LastAccessedAt: recent, AccessCount: 0},
		{Content: "important", Importance: 0.5, LastAccessedAt: old, AccessCount: 0},
	}
	for i := range seed {
		m := seed[i]
		m.UserID = "u1"
		m.Kind = model.KindEpisodic
		m.CreatedAt = old
		require.NoError(t, f.repo.SaveMemory(ctx, &m))
	}

	removed, err := f.mem.Forget(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	var left []string
	for _, m := range f.all(t, "u1") {
		left = append(left, m.Content)
	}
	assert.ElementsMatch(t, []string{"stale but used", "fresh", "important"}, left)
}

func TestClusters(t *testing.T) {
	vecs := [][]float64{{1, 0}, {0, 1}, {1, 0.01}, {0.01, 1}, {-1, 0}}
	assert.Equal(t, [][]int{{0, 2}, {1, 3}, {4}}, clusters(vecs, 0.8))
}

func TestAssemble(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	graph := preference.New(f.repo, preference.DefaultOptions(), nil)
	_, _, err := graph.AddPreference(ctx, preference.AddParams{UserID: "u1", Category: "scheduling", Text: "morning meetings", Strength: 1, Confidence: 1})
	require.NoError(t, err)
	_, err = f.mem.Store(ctx, StoreParams{UserID: "u1", Content: "daily standup happens at ten", Kind: model.KindSemantic, Importance: 0.7})
	require.NoError(t, err)

	res, err := f.mem.Assemble(ctx, graph, ContextParams{
		UserID:    "u1",
		Query:     "morning standup",
		Situation: map[string]string{"task": "scheduling"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4000, res.Budget)
	require.Len(t, res.Preferences, 1)
	assert.Equal(t, "morning meetings", res.Preferences[0].Preference.Text)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, "daily standup happens at ten", res.Memories[0].Content)
	assert.False(t, res.Memories[0].Excerpt)
}

func TestAssembleExcerptsOverBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	long := strings.Repeat("standup notes ", 30)
	_, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: long, Kind: model.KindEpisodic, Importance: 0.5})
	require.NoError(t, err)

	res, err := f.mem.Assemble(ctx, nil, ContextParams{UserID: "u1", Query: "standup", Budget: 30})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.True(t, res.Memories[0].Excerpt)
	// Eight "standup notes" pairs fit the 117-byte passage limit.
	assert.Len(t, res.Memories[0].Content, 114)
	assert.True(t, strings.HasSuffix(res.Memories[0].Content, "notes..."))
	assert.Equal(t, 30, res.Used)
	assert.Empty(t, res.Preferences)
}
