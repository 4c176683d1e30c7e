package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesCategoryFilesAndReadsThemBack(t *testing.T) {
	l, err := NewLogger(t.TempDir(), false)
	require.NoError(t, err)
	defer l.Close()

	l.Log(LevelInfo, CategoryIndex, "batch_done", "Batch finished", nil, map[string]interface{}{"indexed": 2})
	l.Log(LevelError, CategoryNotify, "send_failed", "Telegram send failed", errors.New("chat not found"), nil)
	l.Log(LevelWarn, CategoryIndex, "claim_empty", "Nothing claimed", nil, nil)

	all, err := l.ReadLogs(ReadLogsOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyIndex, err := l.ReadLogs(ReadLogsOptions{Category: CategoryIndex})
	require.NoError(t, err)
	assert.Len(t, onlyIndex, 2)

	errorsOnly, err := l.ReadLogs(ReadLogsOptions{Level: LevelError})
	require.NoError(t, err)
	require.Len(t, errorsOnly, 1)
	assert.Equal(t, "chat not found", errorsOnly[0].Error)
	assert.Equal(t, CategoryNotify, errorsOnly[0].Category)

	searched, err := l.ReadLogs(ReadLogsOptions{Search: "BATCH"})
	require.NoError(t, err)
	require.Len(t, searched, 1)
	assert.Equal(t, "batch_done", searched[0].Action)
	assert.EqualValues(t, 2, searched[0].Data["indexed"])

	files, err := l.ListLogFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestLogger_NopDropsEverything(t *testing.T) {
	l := Nop()
	l.Log(LevelInfo, CategoryAPI, "x", "y", nil, nil)

	entries, err := l.ReadLogs(ReadLogsOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogger_FiltersByEventID(t *testing.T) {
	l, err := NewLogger(t.TempDir(), false)
	require.NoError(t, err)
	defer l.Close()

	l.Log(LevelInfo, CategoryIndex, "batch_done", "Batch finished", nil, map[string]interface{}{"event_id": "e-1"})
	l.Log(LevelInfo, CategoryNotify, "broadcast_done", "Broadcast finished", nil, map[string]interface{}{"event_id": "e-1"})
	l.Log(LevelInfo, CategoryIndex, "batch_done", "Batch finished", nil, map[string]interface{}{"event_id": "e-2"})
	l.Log(LevelInfo, CategoryAPI, "request", "No event", nil, nil)

	entries, err := l.ReadLogs(ReadLogsOptions{EventID: "e-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
