package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeatWritesDocument(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "collector", "v1")
	require.NoError(t, err)

	w.Count("messages", 3)
	w.Count("messages", 2)
	w.Count("errors", 1)
	require.NoError(t, w.Beat("ok", "message"))

	data, err := os.ReadFile(filepath.Join(dir, "collector.json"))
	require.NoError(t, err)

	var doc Doc
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "ok", doc.Status)
	assert.Equal(t, "message", doc.LastEvent)
	assert.Equal(t, "v1", doc.PipelineVersion)
	assert.Equal(t, int64(5), doc.Counts["messages"])
	assert.Equal(t, int64(1), doc.Counts["errors"])
	assert.Equal(t, os.Getpid(), doc.PID)
	assert.InDelta(t, float64(time.Now().Unix()), doc.TS, 5)

	parsed, err := time.Parse(time.RFC3339, doc.ISO)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)
}

func TestBeatReplacesPreviousDocument(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "worker", "v2")
	require.NoError(t, err)

	require.NoError(t, w.Beat("ok", "claim"))
	require.NoError(t, w.Beat("ok", "idle"))

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	var doc Doc
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "idle", doc.LastEvent)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not accumulate")
}

func TestNilWriterDiscards(t *testing.T) {
	var w *Writer
	w.Count("messages", 1)
	assert.NoError(t, w.Beat("ok", "idle"))
	assert.Empty(t, w.Path())
}

func TestNewWriterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "heartbeats")
	w, err := NewWriter(dir, "collector", "v1")
	require.NoError(t, err)
	require.NoError(t, w.Beat("ok", "start"))

	_, err = os.Stat(filepath.Join(dir, "collector.json"))
	assert.NoError(t, err)
}
