// ABOUTME: Tests for logger setup
// ABOUTME: Covers level parsing, JSON output, and the console handler's formatting

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/alumni-dm/internal/config"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.Info("thread opened", "conversation_id", "c1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "thread opened", rec["msg"])
	assert.Equal(t, "c1", rec["conversation_id"])
}

func TestSetup_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "poller").Warn("poll failed", "error", "boom")
	logger.Debug("tick")

	out := buf.String()
	assert.Contains(t, out, "WRN poll failed component=poller error=boom")
	assert.Contains(t, out, "DBG tick")
}

func TestSetup_ConsoleLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "error"}, &buf)

	logger.Info("quiet")
	logger.Error("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "ERR loud")
}

func TestSetup_ConsoleGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{}, &buf)

	logger.WithGroup("cache").Info("miss", "key", "c1")

	assert.Contains(t, buf.String(), "INF miss cache.key=c1")
}
