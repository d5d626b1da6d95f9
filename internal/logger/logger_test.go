package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "error", ErrorLevel.String())
	assert.Equal(t, "unknown", Level(99).String())
}

func TestSetLevelRoundTrip(t *testing.T) {
	log := New(&Config{Level: InfoLevel, Format: "text", Output: "stderr"})
	assert.Equal(t, InfoLevel, log.GetLevel())
	log.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, log.GetLevel())
	log.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, log.GetLevel())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(&Config{Level: DebugLevel, Format: "json", Output: path})
	log.With("component", "test").Info("hello", "n", 1)
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestNopDiscards(t *testing.T) {
	log := OrNop(nil)
	log.Error("dropped")
	assert.NoError(t, log.Close())
}
