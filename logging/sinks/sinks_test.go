package sinks

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

	"towerdefense/server/logging"
)

func sampleEvent() logging.Event {
	return logging.Event{
		Type:     "economy.tower_built",
		Tick:     42,
		Time:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:    logging.PlayerRef("p1"),
		Targets:  []logging.EntityRef{{ID: "east:3", Kind: logging.EntityKindTower}},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEconomy,
		Payload:  map[string]any{"towerType": "bolt", "goldDelta": -60},
		Extra:    map[string]any{"instance": "td-1"},
		RoomID:   "ROOM2345",
		ActionID: "a-1",
	}
}

func TestConsoleRendersFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsole(&buf, logging.ConsoleConfig{})
	require.NoError(t, sink.Write(sampleEvent()))
	require.NoError(t, sink.Close(context.Background()))

	line := buf.String()
	for _, want := range []string{
		"level=info",
		`msg=economy.tower_built`,
		"tick=42",
		"actor=\"player:p1\"",
		"room=ROOM2345",
		"action=a-1",
		"targets=\"tower:east:3\"",
		"instance=td-1",
		"goldDelta",
	} {
		assert.Contains(t, line, want)
	}
}

func TestConsoleMapsSeverity(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsole(&buf, logging.ConsoleConfig{})
	event := sampleEvent()
	event.Severity = logging.SeverityError
	require.NoError(t, sink.Write(event))
	assert.Contains(t, buf.String(), "level=error")
}

func TestJSONWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	require.NoError(t, sink.Write(sampleEvent()))
	second := sampleEvent()
	second.Type = "economy.tower_sold"
	second.Targets = nil
	require.NoError(t, sink.Write(second))
	require.NoError(t, sink.Close(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "economy.tower_built", first["type"])
	assert.Equal(t, "info", first["severity"])
	assert.Equal(t, "ROOM2345", first["roomId"])
	assert.Equal(t, "2024-03-01T12:00:00Z", first["time"])
	assert.Equal(t, map[string]any{"id": "p1", "kind": "player"}, first["actor"])

	var next map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &next))
	assert.NotContains(t, next, "targets")
}

func TestRotatingJSONWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewRotatingJSON(logging.JSONConfig{FilePath: path, MaxSizeMB: 1, FlushInterval: time.Hour})
	require.NoError(t, sink.Write(sampleEvent()))
	require.NoError(t, sink.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"economy.tower_built"`)
}

func TestMemoryKeepsNewestAndIsolatesCopies(t *testing.T) {
	sink := NewMemory(2)
	for _, typ := range []logging.EventType{"a", "b", "c"} {
		event := sampleEvent()
		event.Type = typ
		require.NoError(t, sink.Write(event))
	}

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, logging.EventType("b"), events[0].Type)
	assert.Equal(t, logging.EventType("c"), events[1].Type)

	matches := sink.OfType("c")
	require.Len(t, matches, 1)
	matches[0].Extra["instance"] = "mutated"
	assert.Equal(t, "td-1", sink.OfType("c")[0].Extra["instance"])

	sink.Reset()
	assert.Empty(t, sink.Events())
}
