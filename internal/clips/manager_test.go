package clips

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/recorder"
)

func TestDepartureWindow(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	// 30-minute visit with 15 s of lead-in: the last detection sits at
	// offset 1815 in the file, so a 30s-before/15s-after clip starts at
	// 1785 and runs 45 s regardless of any lead-out after departure.
	rec := &recorder.Recording{
		RecordingStart: t0.Add(-5 * time.Second),
		VisitStart:     t0.Add(10 * time.Second),
		VisitEnd:       t0.Add(1810 * time.Second),
	}

	start, dur := DepartureWindow(rec, 30, 15)
	assert.Equal(t, 1785.0, start)
	assert.Equal(t, 45.0, dur)
}

func TestDepartureWindowClampsShortVisit(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := &recorder.Recording{
		RecordingStart: t0,
		VisitEnd:       t0.Add(10 * time.Second),
	}

	start, dur := DepartureWindow(rec, 30, 15)
	assert.Equal(t, 0.0, start, "window start never precedes the file")
	assert.Equal(t, 45.0, dur)
}

func TestSiblingPath(t *testing.T) {
	visit := "/data/clips/2025-06-01/falcon_093000_visit.mp4"
	assert.Equal(t, "/data/clips/2025-06-01/falcon_093000_arrival.mp4",
		SiblingPath(visit, "arrival", "mp4"))
	assert.Equal(t, "/data/clips/2025-06-01/falcon_093000_departure.jpg",
		SiblingPath(visit, "departure", "jpg"))
}

func TestClipPathHelpers(t *testing.T) {
	rec := &recorder.Recording{VisitFile: "/c/2025-06-01/falcon_120000_visit.mp4"}
	assert.Equal(t, "/c/2025-06-01/falcon_120000_arrival.mp4", ArrivalClipPath(rec))
	assert.Equal(t, "/c/2025-06-01/falcon_120000_departure.mp4", DepartureClipPath(rec))
}
