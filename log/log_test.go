package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"string", slog.String("key", "value"), "value"},
		{"int64", slog.Int64("key", 123), "123"},
		{"uint64", slog.Uint64("key", 7), "7"},
		{"bool", slog.Bool("key", true), "true"},
		{"float64", slog.Float64("key", 1.25), "1.25"},
		{"time", slog.Time("key", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), "2024-01-01T00:00:00Z"},
		{"duration", slog.Duration("key", time.Hour), "1h0m0s"},
		{"error", slog.Any("key", errors.New("test error")), "test error"},
		{"nil", slog.Any("key", nil), "<nil>"},
		{"json", slog.Any("key", map[string]int{"a": 1}), `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.attr.Value.Resolve()))
		})
	}
}

func TestConsoleHandler_Line(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, WithLevel(slog.LevelDebug)))

	logger.With("runtime", "r1").WithGroup("task").Debug("async: task parked", "id", 3, "note", "two words")

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "DEBUG async: task parked")
	assert.Contains(t, line, " runtime=r1")
	assert.Contains(t, line, " task.id=3")
	assert.Contains(t, line, ` task.note="two words"`)
	assert.NotContains(t, line, "\x1b[")
}

func TestConsoleHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))

	slog.New(h).Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestConsoleHandler_Color(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewConsoleHandler(&buf, WithColor(true))).Error("host: finalize failed")
	assert.Contains(t, buf.String(), ansiRed+"ERROR"+ansiReset)
}

func TestConsoleHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewConsoleHandler(&buf)).Info("stats", slog.Group("heap", slog.Int("live", 4), slog.Int("freed", 2)))
	assert.Contains(t, buf.String(), " heap.live=4 heap.freed=2")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, WithJSON(true)).Info("host: runtime started", "depth", 0)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "host: runtime started", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
}

func TestNew_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, IsTerminal(&buf))
	New(&buf).Warn("plain")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
