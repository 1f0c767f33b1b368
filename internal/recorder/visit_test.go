package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/encoder"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

func testRecorder(t *testing.T, loc *time.Location) *VisitRecorder {
	t.Helper()
	log, err := logging.New("", logging.LevelError, false)
	require.NoError(t, err)
	b := &encoder.Builder{Kind: encoder.KindSoftware, FPS: 30, CRF: 23}
	return New(b, "/data/clips", "falcon", loc, log)
}

func TestVisitPaths(t *testing.T) {
	r := testRecorder(t, time.UTC)
	arrival := time.Date(2025, 6, 1, 14, 5, 9, 0, time.UTC)

	dir, final, tmp, stderrPath := r.visitPaths(arrival)
	assert.Equal(t, filepath.Join("/data/clips", "2025-06-01"), dir)
	assert.Equal(t, filepath.Join(dir, "falcon_140509_visit.mp4"), final)
	assert.Equal(t, final+".tmp", tmp)
	assert.Equal(t, final+".stderr.log", stderrPath)
}

func TestVisitPathsUseStreamZone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Budapest")
	require.NoError(t, err)
	r := testRecorder(t, loc)

	// 23:30 UTC is already the next day in Budapest (UTC+2 in June).
	arrival := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	dir, final, _, _ := r.visitPaths(arrival)
	assert.Equal(t, filepath.Join("/data/clips", "2025-06-02"), dir)
	assert.Contains(t, final, "falcon_013000_visit.mp4")
}

func TestLeadInDuration(t *testing.T) {
	assert.Equal(t, 15*time.Second, leadInDuration(450, 30))
	assert.Equal(t, 500*time.Millisecond, leadInDuration(15, 30))
	assert.Equal(t, time.Duration(0), leadInDuration(450, 0))
}

func TestMarkerOffsets(t *testing.T) {
	rec := &activeRecording{}
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	rec.appendMarker("arrival", ts, nil, 30)
	rec.written = 900 // 30 s of footage
	rec.appendMarker("roosting", ts.Add(30*time.Second), map[string]interface{}{"state": "ROOSTING"}, 30)
	rec.written = 2700
	rec.appendMarker("departure", ts.Add(90*time.Second), nil, 30)

	require.Len(t, rec.events, 3)
	assert.Equal(t, 0.0, rec.events[0].OffsetSeconds)
	assert.Equal(t, 30.0, rec.events[1].OffsetSeconds)
	assert.Equal(t, "ROOSTING", rec.events[1].Meta["state"])
	assert.Equal(t, 90.0, rec.events[2].OffsetSeconds)
}

func TestStopWithoutStart(t *testing.T) {
	r := testRecorder(t, time.UTC)
	_, err := r.StopRecording(time.Now())
	assert.Error(t, err)
	assert.False(t, r.Active())
	assert.Nil(t, r.ForceStop(time.Now()))
}
