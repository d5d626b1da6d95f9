package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"stop words and short tokens", "Meeting with the client about a project", []string{"meeting", "client", "about", "project"}},
		{"digits split runs", "schedule at 8am", []string{"schedule"}},
		{"punctuation", "Don't: use tabs!", []string{"use", "tabs"}},
		{"empty", "   ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"don't", "schedule", "meetings"}, Terms("Don't schedule meetings."))
	assert.Equal(t, []string{"9am"}, Terms("(9am)"))
}

func TestOverlapIsDirectional(t *testing.T) {
	short := Words("short replies")
	long := Words("prefer short replies in the morning")
	assert.InDelta(t, 1.0, Overlap{}.Score(short, long), 1e-9)
	assert.InDelta(t, 2.0/6.0, Overlap{}.Score(long, short), 1e-9)
	assert.Zero(t, Overlap{}.Score(nil, long))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 0.5, Jaccard{}.Score(Words("a b c"), Words("b c d")), 1e-9)
	assert.Zero(t, Jaccard{}.Score(nil, Words("x")))
	assert.InDelta(t, 1.0, Jaccard{}.Score(Words("x x y"), Words("y x")), 1e-9)
}

func TestShared(t *testing.T) {
	assert.Equal(t, 2, Shared(Words("a b b c"), Words("b c d")))
}
