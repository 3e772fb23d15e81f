package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level LogLevel
		want  int
	}{
		{LogLevelTrace, 5},
		{LogLevelDebug, 4},
		{LogLevelInfo, 3},
		{LogLevelWarn, 2},
		{LogLevelError, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := NewSlogLogger(buf, tt.level, time.UTC)

			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")

			assert.Len(t, decodeLines(t, buf), tt.want)
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("jobs").Module("queue")

	log.With(String("job_id", "abc")).Info("job started",
		Int("frames", 12),
		Float64("progress", 21.23456),
		Duration("elapsed", 1500*time.Millisecond),
		Error(os.ErrNotExist))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "jobs.queue", entry["module"])
	assert.Equal(t, "abc", entry["job_id"])
	assert.InDelta(t, 12, entry["frames"], 0)
	assert.InDelta(t, 21.235, entry["progress"], 1e-9)
	assert.Equal(t, "1.5s", entry["elapsed"])
	assert.Equal(t, "file does not exist", entry["error"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "req-1")).Info("handled")
	log.WithContext(context.Background()).Info("no trace")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "req-1", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestSensitiveValuesRedacted(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Info("provider call failed",
		String("api_key", "sk-live-123456789"),
		String("detail", "Authorization: Bearer abcdef123456"),
		String("dsn", "postgres://user:hunter22@db/labels"))

	entry := decodeLines(t, buf)[0]
	assert.Equal(t, redactedValue, entry["api_key"])
	assert.Equal(t, redactedValue, entry["dsn"])
	assert.NotContains(t, entry["detail"], "abcdef123456")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path},
		ModuleLevels: map[string]string{"quiet": "error"},
	})
	require.NoError(t, err)

	cl.Module("frames").Debug("extracted", Int("count", 3))
	cl.Module("quiet").Info("suppressed")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"module":"frames"`)
	assert.NotContains(t, string(data), "suppressed")
}

func TestCentralLoggerRotate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path},
	})
	require.NoError(t, err)

	cl.Module("jobs").Info("before rotation")
	require.NoError(t, cl.Rotate())
	cl.Module("jobs").Info("after rotation")
	require.NoError(t, cl.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "rotated backup and current file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after rotation")
	assert.NotContains(t, string(data), "before rotation")
}

func TestInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}
