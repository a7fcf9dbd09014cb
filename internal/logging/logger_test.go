package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONEntryToOut(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Info)

	logger.Info("hello", "key", "value")

	var e entry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e))
	assert.Equal(t, "hello", e.Message)
	assert.Equal(t, "info", e.Level)
	assert.Equal(t, "value", e.Fields["key"])
}

func TestLoggerFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Warn)

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	logger.Warn("should appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "should appear")
}

func TestWithComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Info).WithComponent("coordinator")

	logger.Info("working")

	var e entry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e))
	assert.Equal(t, "coordinator", e.Component)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Debug, ParseLevel("debug"))
	assert.Equal(t, Warn, ParseLevel("WARN"))
	assert.Equal(t, Error, ParseLevel("error"))
	assert.Equal(t, Info, ParseLevel("bogus"))
}
