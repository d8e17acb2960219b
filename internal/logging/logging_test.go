package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"error":   LevelError,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		" info ":  LevelInfo,
		"Debug":   LevelDebug,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(&buf, LevelWarn)

	logger.Info("hidden")
	logger.Warn("shown", "camera", "ptz1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "camera=ptz1")
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(&buf, Level(""))

	logger.Debug("dropped")
	logger.Info("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
