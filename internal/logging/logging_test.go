package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeYesterday() time.Time {
	return time.Now().UTC().Add(-24 * time.Hour)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelEvent, ParseLevel("EVENT"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLevel("whatever"))
}

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelInfo < LevelEvent)
	assert.True(t, LevelEvent < LevelWarn)
	assert.Equal(t, 25, int(LevelEvent))
}

func TestLogLineFormat(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir, LevelDebug, false)
	require.NoError(t, err)

	log.Module("monitor").Infof("hello %d", 42)
	log.Module("behavior").Eventf("falcon arrived")
	log.Module("capture").Warnf("stream hiccup")

	data, err := os.ReadFile(filepath.Join(dir, "kanyo.log"))
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "| INFO | monitor | hello 42")
	assert.Contains(t, out, "| EVENT | behavior | falcon arrived")
	assert.Contains(t, out, "| WARNING | capture | stream hiccup")

	// The timestamp is rendered human-readable, not raw RFC3339.
	assert.Regexp(t,
		`(?m)^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} UTC \| INFO \| monitor \| hello 42`,
		out)
	assert.NotRegexp(t, `\d{2}T\d{2}`, out, "no RFC3339 timestamps in rendered lines")
}

func TestLevelFilter(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir, LevelEvent, false)
	require.NoError(t, err)

	mod := log.Module("monitor")
	mod.Infof("suppressed")
	mod.Eventf("kept event")
	mod.Errorf("kept error")

	data, err := os.ReadFile(filepath.Join(dir, "kanyo.log"))
	require.NoError(t, err)
	out := string(data)

	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "kept event")
	assert.Contains(t, out, "kept error")
}

func TestStaleFileRotatedOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kanyo.log")
	require.NoError(t, os.WriteFile(path, []byte("old day\n"), 0o644))

	// Backdate the file so it looks like yesterday's log.
	old := timeYesterday()
	require.NoError(t, os.Chtimes(path, old, old))

	log, err := New(dir, LevelInfo, false)
	require.NoError(t, err)
	log.Module("main").Infof("fresh")

	rotated := path + "." + old.UTC().Format("2006-01-02")
	_, err = os.Stat(rotated)
	assert.NoError(t, err, "previous day's file set aside on open")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old day")
	assert.Contains(t, string(data), "fresh")
}
