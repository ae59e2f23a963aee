package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf).WithField("request_id", "abc")

	l.Info("Event ingested", map[string]any{"visitor_id": "v1"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Event ingested", entry["message"])
	assert.Equal(t, "abc", entry["request_id"])
	assert.Equal(t, "v1", entry["visitor_id"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf)

	l.Info("dropped")
	l.Debug("dropped")
	l.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "kept")
}

func TestWithFieldDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(INFO, &buf)
	_ = parent.WithField("child", true)

	parent.Info("parent entry")
	assert.NotContains(t, buf.String(), "child")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warn"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
