package clips

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/frame"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/recorder"
)

const (
	workerCount = 2
	queueDepth  = 16
)

// Windows holds the before/after seconds for each clip kind plus the
// state-change debounce interval.
type Windows struct {
	ArrivalBefore       int
	ArrivalAfter        int
	DepartureBefore     int
	DepartureAfter      int
	StateChangeBefore   int
	StateChangeAfter    int
	StateChangeCooldown int
}

type job struct {
	id   string
	name string
	run  func() error
}

// Manager schedules clip extractions on a small worker pool. Operations
// are fire-and-forget: failures are logged, never surfaced to the
// detection loop.
type Manager struct {
	ex        *Extractor
	buf       *frame.Buffer
	win       Windows
	clipsRoot string
	label     string
	loc       *time.Location
	log       *logging.Logger

	jobs chan job
	wg   sync.WaitGroup

	mu        sync.Mutex
	scTimer   *time.Timer
	scState   string
	scTrigger time.Time
	closed    bool
}

// NewManager starts the worker pool.
func NewManager(ex *Extractor, buf *frame.Buffer, win Windows, clipsRoot, label string, loc *time.Location, log *logging.Logger) *Manager {
	m := &Manager{
		ex:        ex,
		buf:       buf,
		win:       win,
		clipsRoot: clipsRoot,
		label:     label,
		loc:       loc,
		log:       log.Module("clips"),
		jobs:      make(chan job, queueDepth),
	}
	for i := 0; i < workerCount; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for j := range m.jobs {
		start := time.Now()
		if err := j.run(); err != nil {
			m.log.Errorf("%s job %s failed: %v", j.name, j.id, err)
			continue
		}
		m.log.Infof("%s job %s done in %s", j.name, j.id, time.Since(start).Round(time.Millisecond))
	}
}

func (m *Manager) enqueue(name string, run func() error) {
	j := job{id: uuid.NewString()[:8], name: name, run: run}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	select {
	case m.jobs <- j:
	default:
		m.log.Warnf("clip queue full, dropping %s job", name)
	}
}

// ArrivalClipPath returns the path the arrival clip will be written to.
func ArrivalClipPath(rec *recorder.Recording) string {
	return SiblingPath(rec.VisitFile, "arrival", "mp4")
}

// DepartureClipPath returns the path the departure clip will be written to.
func DepartureClipPath(rec *recorder.Recording) string {
	return SiblingPath(rec.VisitFile, "departure", "mp4")
}

// ScheduleVisitClips queues the arrival and departure sub-clip
// extractions for a completed visit.
func (m *Manager) ScheduleVisitClips(rec *recorder.Recording) {
	m.enqueue("arrival", func() error {
		_, err := m.ex.FromRecording(rec, "arrival",
			0, float64(m.win.ArrivalBefore+m.win.ArrivalAfter))
		return err
	})
	m.enqueue("departure", func() error {
		start, dur := DepartureWindow(rec, m.win.DepartureBefore, m.win.DepartureAfter)
		_, err := m.ex.FromRecording(rec, "departure", start, dur)
		return err
	})
}

// ScheduleInitial queues a from-buffer clip for a subject already
// present at startup, where no visit recording covers the arrival.
func (m *Manager) ScheduleInitial(ts time.Time) {
	frames := m.buf.FramesBefore(ts, m.win.ArrivalBefore+m.win.ArrivalAfter)
	out := m.datedPath(ts, "initial")
	m.enqueue("initial", func() error {
		return m.ex.FromBuffer(frames, out)
	})
}

// ScheduleStateChange arms (or re-arms) the debounced state-change clip.
// Each call within the cooldown resets the timer; the clip is cut only
// after a full quiet interval, so an oscillating roosting-activity run
// collapses into one clip of the final state.
func (m *Manager) ScheduleStateChange(state string, trigger time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.scState = state
	m.scTrigger = trigger
	cooldown := time.Duration(m.win.StateChangeCooldown) * time.Second

	if m.scTimer != nil {
		m.scTimer.Reset(cooldown)
		return
	}
	m.scTimer = time.AfterFunc(cooldown, m.fireStateChange)
}

// CancelStateChange drops any pending state-change clip. Called on
// departure, where the departure clip covers the moment anyway.
func (m *Manager) CancelStateChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scTimer != nil {
		m.scTimer.Stop()
		m.scTimer = nil
	}
}

func (m *Manager) fireStateChange() {
	m.mu.Lock()
	state, trigger := m.scState, m.scTrigger
	m.scTimer = nil
	m.mu.Unlock()

	window := m.win.StateChangeBefore + m.win.StateChangeAfter

	// The trigger is usually older than the buffer by the time the
	// debounce elapses; fall back to the most recent window then.
	frames := m.buf.FramesInRange(
		trigger.Add(-time.Duration(m.win.StateChangeBefore)*time.Second),
		trigger.Add(time.Duration(m.win.StateChangeAfter)*time.Second),
	)
	if len(frames) == 0 {
		frames = m.buf.Recent(window)
	}

	out := m.datedPath(trigger, state)
	m.enqueue("state-change", func() error {
		return m.ex.FromBuffer(frames, out)
	})
}

// Close cancels pending work and waits for running jobs to finish.
func (m *Manager) Close() {
	m.CancelStateChange()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.jobs)
	m.wg.Wait()
}

func (m *Manager) datedPath(ts time.Time, kind string) string {
	local := ts.In(m.loc)
	return filepath.Join(m.clipsRoot, local.Format("2006-01-02"),
		fmt.Sprintf("%s_%s_%s.mp4", m.label, local.Format("150405"), kind))
}
