package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func newBufferLogger(t *testing.T, config Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	config.writer = output
	logger, err := New(&config)
	require.NoError(t, err)
	return logger, output
}

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level     string
		wantLevel string
	}{
		{level: "debug", wantLevel: "DEBUG"},
		{level: "info", wantLevel: "INFO"},
		{level: "warn", wantLevel: "WARN"},
		{level: "ERROR", wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, output := newBufferLogger(t, Config{Level: tt.level, Format: "json"})

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message", slog.String("job_id", "abc"))

			entries := decodeLines(t, output)
			require.NotEmpty(t, entries)
			assert.Equal(t, tt.wantLevel, entries[0]["level"])

			last := entries[len(entries)-1]
			assert.Equal(t, "ERROR", last["level"])
			assert.Equal(t, "abc", last["job_id"])
		})
	}
}

func TestNew_Console(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "console"})

	logger.Info("console test", slog.Int("amount", 10))

	// tint abbreviates levels
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "console test")
	assert.Contains(t, output.String(), "amount")
}

func TestNew_Source(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Format: "json", EnableSource: true})

	logger.Info("message with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("state", "SUCCESS"))
	require.NoError(t, logger.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	assert.Equal(t, "written to file", entry["msg"])
	assert.Equal(t, "SUCCESS", entry["state"])
}

func TestNew_FileOutputError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "service.log")

	logger, err := New(&Config{Output: path})
	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "DEBUG", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		{level: "invalid", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Format: "json"})

	logger.WithGroup("job").Info("test message", slog.String("id", "value"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	group := entries[0]["job"].(map[string]any)
	assert.Equal(t, "value", group["id"])
}

func TestLogger_WithAttrs(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Format: "json"})

	logger.WithAttrs(
		slog.String("worker_id", "w-1"),
		slog.Int("concurrency", 4),
	).Info("test message")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "w-1", entries[0]["worker_id"])
	assert.Equal(t, float64(4), entries[0]["concurrency"])
}

func TestLogger_With(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Format: "json"})

	logger.With("service", "api", "version", 1).Info("operation complete")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "api", entries[0]["service"])
	assert.Equal(t, float64(1), entries[0]["version"])
}
