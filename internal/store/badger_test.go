package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/adaptive-memory/internal/model"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerUserPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	require.NoError(t, s.SaveMemory(ctx, &model.Memory{UserID: "a", Kind: model.KindSemantic, Content: "mine"}))
	require.NoError(t, s.SaveMemory(ctx, &model.Memory{UserID: "a:b", Kind: model.KindSemantic, Content: "theirs"}))

	got, err := s.ListMemories(ctx, ListParams{UserID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mine", got[0].Content)
}

func TestBadgerDeleteRemovesIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	m := &model.Memory{UserID: "u", Kind: model.KindEpisodic, Content: "gone soon"}
	require.NoError(t, s.SaveMemory(ctx, m))
	require.NoError(t, s.DeleteMemory(ctx, m.ID))

	assert.ErrorIs(t, s.UpdateAccess(ctx, m.ID), ErrNotFound)
	assert.NoError(t, s.DeleteMemory(ctx, m.ID))
}
