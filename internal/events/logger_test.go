package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "json", &buf)

	logger.WithFields(map[string]interface{}{
		"component": "sync_engine",
		"count":     3,
	}).Info("Sync pass finished")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Sync pass finished", entry["msg"])
	assert.Equal(t, "test-device", entry["device"])
	assert.Equal(t, "sync_engine", entry["component"])
	assert.Equal(t, float64(3), entry["count"])
	assert.NotEmpty(t, entry["time"])
}

func TestLoggerJSONEscaping(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "json", &buf)

	logger.WithField("path", `C:\data`).Info(`said "hi"` + "\n")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, `said "hi"`+"\n", entry["msg"])
	assert.Equal(t, `C:\data`, entry["path"])
}

func TestLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "text", &buf)

	logger.WithField("item", "abc").Warn("Item inside backoff window")

	line := buf.String()
	assert.Contains(t, line, "[WARN]")
	assert.Contains(t, line, "Item inside backoff window")
	assert.Contains(t, line, "item=abc")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(WarnLevel, "text", &buf)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.NotContains(t, buf.String(), "dropped")
}

func TestLoggerDerivationDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "json", &buf)

	child := logger.WithField("component", "outbox")
	child.WithField("item", "x").Debug("child")

	buf.Reset()
	logger.Debug("parent")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasComponent := entry["component"]
	assert.False(t, hasComponent)
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "json", &buf)

	logger.WithError(errors.New("connection refused")).Error("Push failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connection refused", entry["error"])

	// A nil error adds nothing.
	assert.Same(t, logger, logger.WithError(nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}
