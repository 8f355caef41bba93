package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Run("writes JSON records to the log file", func(t *testing.T) {
		// Given a logger writing to a temp file
		path := filepath.Join(t.TempDir(), "logs", "test.log")
		logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, WriteToStderr: false})
		require.NoError(t, err)

		// When an event is logged
		logger.Info("run_created", slog.String("run_id", "r1"))
		cleanup()

		// Then the file contains a JSON record with the event
		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record))
		assert.Equal(t, "run_created", record["msg"])
		assert.Equal(t, "r1", record["run_id"])
	})

	t.Run("respects the configured level", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.log")
		logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path, WriteToStderr: false})
		require.NoError(t, err)

		logger.Info("dropped")
		logger.Warn("kept")
		cleanup()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "dropped")
		assert.Contains(t, string(data), "kept")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestRolloverWriter(t *testing.T) {
	// Given a writer with a tiny size limit
	path := filepath.Join(t.TempDir(), "roll.log")
	w, err := newRolloverWriter(path, 1)
	require.NoError(t, err)
	w.maxBytes = 64

	// When writes exceed the limit
	_, err = w.Write([]byte(strings.Repeat("a", 48) + "\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("b", 48) + "\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Then the first generation was rolled to .old
	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)
	assert.Contains(t, string(old), "aaa")

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(current), "bbb")
}
