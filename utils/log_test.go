package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]LogLevel{
		"trace": TRACE, "DEBUG": DEBUG, "info": INFO, "warn": WARN, "warning": WARN,
		"error": ERROR, "critical": CRITICAL, "": INFO, "bogus": INFO,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLogger_LevelsAndPrefix(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriterLogger(&buf, INFO)
	log.Debug("hidden %d", 1)
	log.Info("shown %d", 2)
	log.With("session=abc").Warn("tagged")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] shown 2")
	assert.Contains(t, out, "[WARN] [session=abc] tagged")
	assert.False(t, log.Enabled(DEBUG))

	log.SetMinLevel(TRACE)
	assert.True(t, log.With("x").Enabled(TRACE))
}

func TestFileLogger(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tracker.log")
	log, err := NewFileLogger(path, DEBUG, false)
	require.NoError(t, err)
	log.Debug("cycle %d", 7)
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(data)), "[DEBUG] cycle 7"))
}
