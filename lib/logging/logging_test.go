package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Warn", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"nonsense", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}
}

func TestTextFormatSortsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Writer: &buf})
	require.NoError(t, err)

	logger.Info("stored event", map[string]interface{}{"kind": 1, "event_id": "abc"})

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "[INFO] stored event | event_id=abc kind=1")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warnf("shown %d", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 1")
}

func TestJSONFormatWithChildFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Writer: &buf})
	require.NoError(t, err)

	child := logger.With(map[string]interface{}{"component": "relay"})
	child.Error("query failed", map[string]interface{}{"error": errors.New("boom")})

	var entry map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "query failed", entry["msg"])
	assert.Equal(t, "relay", entry["component"])
	assert.Equal(t, "boom", entry["error"])

	// parent is unaffected
	buf.Reset()
	logger.Info("plain")
	assert.NotContains(t, buf.String(), "component")
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Options{Level: "info", Output: "file", LogDir: dir})
	require.NoError(t, err)

	logger.Info("to disk")
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "*", "*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "to disk")
}

func TestFatalExits(t *testing.T) {
	var code int
	exit = func(c int) { code = c }
	defer func() { exit = os.Exit }()

	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf})
	require.NoError(t, err)

	logger.Fatal("bye")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "[FATAL] bye")
}
