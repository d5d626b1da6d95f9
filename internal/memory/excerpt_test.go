package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/adaptive-memory/internal/model"
)

func TestPassagesPackBlocks(t *testing.T) {
	text := "# Setup\nInstall the tool.\n\nRun init.\n\n# Usage\nCall store with content."
	got := passages(text, 40)
	assert.Equal(t, []string{
		"# Setup\nInstall the tool.\n\nRun init.",
		"# Usage\nCall store with content.",
	}, got)

	assert.Equal(t, []string{text}, passages(text, 1000))
}

func TestPassagesCutOversizedBlocks(t *testing.T) {
	line := strings.Repeat("word ", 10) // 50 bytes with trailing space
	got := passages(line, 20)
	for _, p := range got {
		assert.LessOrEqual(t, len(p), 20)
	}
	assert.Equal(t, strings.Fields(line), strings.Fields(strings.Join(got, " ")))

	got = passages(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, got)
}

func TestPassagesKeepRunesWhole(t *testing.T) {
	got := passages(strings.Repeat("é", 6), 5) // 12 bytes
	for _, p := range got {
		assert.True(t, strings.Trim(p, "é") == "", "split inside a rune: %q", p)
	}
}

func TestExcerptPicksMatchingPassage(t *testing.T) {
	content := "Grocery list for the week.\n\nThe standup moved to ten on Mondays.\n\nDentist on Friday."
	assert.Equal(t, "The standup moved to ten on Mondays.", excerpt(content, "when is standup", 40))

	// No overlap keeps the first passage.
	assert.Equal(t, "Grocery list for the week.", excerpt(content, "weather", 40))
	assert.Empty(t, excerpt(content, "standup", 0))
}

func TestAssembleExcerptFollowsQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := strings.Repeat("filler text about nothing in particular. ", 8) + "\n\nThe launch review is on Thursday at noon."
	_, err := f.mem.Store(ctx, StoreParams{UserID: "u1", Content: content, Kind: model.KindSemantic, Importance: 0.5})
	require.NoError(t, err)

	res, err := f.mem.Assemble(ctx, nil, ContextParams{UserID: "u1", Query: "launch review", Budget: 30})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.True(t, res.Memories[0].Excerpt)
	assert.Equal(t, "The launch review is on Thursday at noon....", res.Memories[0].Content)
}
