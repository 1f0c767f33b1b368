package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/behavior"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/capture"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/clips"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/config"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/detect"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/encoder"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/events"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/frame"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/index"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/notify"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/recorder"
)

const (
	heartbeatInterval = 5 * time.Minute
	watchdogInterval  = 60 * time.Second
)

// Status is a point-in-time snapshot for the admin API.
type Status struct {
	State           string     `json:"state"`
	VisitStart      *time.Time `json:"visit_start,omitempty"`
	PeakConfidence  float64    `json:"peak_confidence"`
	Recording       bool       `json:"recording"`
	FramesProcessed uint64     `json:"frames_processed"`
	LastFrameAt     *time.Time `json:"last_frame_at,omitempty"`
}

type activeVisit struct {
	id        string
	start     time.Time
	peak      float64
	thumbnail string
}

// Monitor is the per-stream orchestrator. It owns the buffer, recorder,
// state machine, clip manager, event store and notification gate;
// components hand results upward, never call back in.
type Monitor struct {
	cfg      *config.Config
	log      *logging.Logger
	capture  *capture.Capture
	detector detect.Detector
	presence *detect.Presence
	machine  *behavior.Machine
	store    *events.Store
	idx      *index.Index
	gate     *notify.Gate
	probe    *encoder.Probe

	// Built in Run once the stream geometry is known.
	buffer  *frame.Buffer
	rec     *recorder.VisitRecorder
	clipMgr *clips.Manager
	width   int
	height  int

	// Sink, when set, receives every lifecycle event (websocket feed).
	Sink func(eventType string, ts time.Time, meta map[string]interface{})

	mu          sync.Mutex
	visit       *activeVisit
	stateName   string
	framesSeen  uint64
	lastFrameAt time.Time
	lastJPEG    []byte
}

// New wires a monitor from its dependencies.
func New(cfg *config.Config, log *logging.Logger, capt *capture.Capture,
	det detect.Detector, store *events.Store, idx *index.Index,
	gate *notify.Gate, probe *encoder.Probe) *Monitor {
	return &Monitor{
		cfg:      cfg,
		log:      log.Module("monitor"),
		capture:  capt,
		detector: det,
		presence: detect.NewPresence(cfg.AnimalClasses, cfg.DetectAnyAnimal,
			cfg.SubjectLabel, cfg.DetectionConfidence, cfg.DetectionConfidenceIR),
		machine: behavior.New(behavior.Timings{
			ExitTimeout:         time.Duration(cfg.ExitTimeout) * time.Second,
			RoostingThreshold:   time.Duration(cfg.RoostingThreshold) * time.Second,
			RoostingExitTimeout: time.Duration(cfg.RoostingExitTimeout) * time.Second,
			ActivityTimeout:     time.Duration(cfg.ActivityTimeout) * time.Second,
		}),
		store: store,
		idx:   idx,
		gate:  gate,
		probe: probe,
	}
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateName
	if state == "" {
		state = behavior.Absent.String()
	}
	s := Status{
		State:           state,
		FramesProcessed: m.framesSeen,
		Recording:       m.rec != nil && m.rec.Active(),
	}
	if m.visit != nil {
		start := m.visit.start
		s.VisitStart = &start
		s.PeakConfidence = m.visit.peak
	}
	if !m.lastFrameAt.IsZero() {
		last := m.lastFrameAt
		s.LastFrameAt = &last
	}
	return s
}

// Run drives the stream until ctx is cancelled, the runtime cap expires,
// or the stream ends for good.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.MaxRuntimeSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx,
			time.Duration(m.cfg.MaxRuntimeSeconds)*time.Second)
		defer cancel()
	}

	if m.detector.Healthy(ctx) {
		m.log.Infof("detector preloaded")
	} else {
		m.log.Warnf("detector unavailable at startup, will retry per frame")
	}

	if err := m.capture.Connect(ctx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	width, height, fps := m.capture.Geometry()
	if fps <= 0 {
		fps = m.cfg.ClipFPS
	}
	m.width, m.height = width, height

	kind := m.probe.Detect(ctx)
	builder := &encoder.Builder{Kind: kind, FPS: fps, CRF: m.cfg.ClipCRF}

	m.buffer = frame.NewBuffer(m.cfg.BufferSeconds, fps, m.cfg.JPEGQuality)
	m.rec = recorder.New(builder, m.cfg.ClipsRoot(), m.cfg.SubjectLabel,
		m.cfg.Location(), m.log)
	m.clipMgr = clips.NewManager(clips.NewExtractor(builder, m.log), m.buffer,
		clips.Windows{
			ArrivalBefore:       m.cfg.ClipArrivalBefore,
			ArrivalAfter:        m.cfg.ClipArrivalAfter,
			DepartureBefore:     m.cfg.ClipDepartureBefore,
			DepartureAfter:      m.cfg.ClipDepartureAfter,
			StateChangeBefore:   m.cfg.ClipStateChangeBefore,
			StateChangeAfter:    m.cfg.ClipStateChangeAfter,
			StateChangeCooldown: m.cfg.ClipStateChangeCooldown,
		}, m.cfg.ClipsRoot(), m.cfg.SubjectLabel, m.cfg.Location(), m.log)
	defer m.shutdown()

	frames := m.capture.Frames(ctx, 1)

	m.runInitWindow(ctx, frames)
	return m.runNormal(ctx, frames)
}

// runInitWindow resolves whether the subject is already present at boot.
// Every frame in the window is buffered and detected without
// sub-sampling; no lifecycle events escape until the ratio is known.
func (m *Monitor) runInitWindow(ctx context.Context, frames <-chan *frame.Frame) {
	deadline := time.Now().Add(time.Duration(m.cfg.ArrivalConfirmationSeconds) * time.Second)
	var seen, hits int
	var maxConf float64

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			bf, err := m.noteFrame(f)
			if err != nil {
				continue
			}
			seen++
			detected, conf, err := m.runDetection(ctx, f, bf)
			if err != nil {
				continue
			}
			// The machine suppresses events while initializing; feeding
			// it here is what arms PENDING_STARTUP for the confirmation
			// below.
			m.machine.Update(detected, f.Timestamp)
			if detected {
				hits++
				if conf > maxConf {
					maxConf = conf
				}
			}
		case <-time.After(time.Until(deadline)):
		}
	}

	ratio := 0.0
	if seen > 0 {
		ratio = float64(hits) / float64(seen)
	}
	m.log.Infof("startup window: %d/%d frames detected (ratio %.2f, threshold %.2f)",
		hits, seen, ratio, m.cfg.ArrivalConfirmationRatio)

	if hits > 0 && ratio >= m.cfg.ArrivalConfirmationRatio {
		for _, ev := range m.machine.ConfirmStartupPresence(time.Now()) {
			m.handleEvent(ctx, ev)
		}
		m.notePeak(maxConf)
	} else {
		m.machine.ResetToAbsent()
	}
	m.noteState()
}

// noteState mirrors the machine state into the status snapshot and the
// state gauge. The machine itself is only touched from the run loop.
func (m *Monitor) noteState() {
	state := m.machine.State()
	currentState.Set(float64(state))
	m.mu.Lock()
	m.stateName = state.String()
	m.mu.Unlock()
}

// runNormal is the steady-state loop: buffer every frame, detect every
// frame_interval-th, feed the active recording, watch the clock.
func (m *Monitor) runNormal(ctx context.Context, frames <-chan *frame.Frame) error {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var sinceDetection int
	for {
		select {
		case <-ctx.Done():
			m.log.Infof("shutting down: %v", ctx.Err())
			return nil

		case <-heartbeat.C:
			s := m.Status()
			m.log.Infof("heartbeat: state=%s frames=%d recording=%v",
				s.State, s.FramesProcessed, s.Recording)

		case <-time.After(watchdogInterval):
			watchdogStalls.Inc()
			m.log.Warnf("no frames received for %s", watchdogInterval)

		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("stream ended")
			}
			bf, err := m.noteFrame(f)
			if err != nil {
				m.log.Warnf("buffer frame %d: %v", f.Number, err)
				continue
			}
			if m.rec.Active() {
				m.rec.WriteFrame(f)
			}

			sinceDetection++
			if sinceDetection < m.cfg.FrameInterval {
				continue
			}
			sinceDetection = 0

			detected, conf, err := m.runDetection(ctx, f, bf)
			if err != nil {
				continue
			}
			m.processDetection(ctx, detected, conf, f.Timestamp)
		}
	}
}

// processDetection feeds one sample through the machine. The peak is
// noted after the events so the detection that opens a visit counts
// toward peak_confidence.
func (m *Monitor) processDetection(ctx context.Context, detected bool, conf float64, ts time.Time) {
	for _, ev := range m.machine.Update(detected, ts) {
		m.handleEvent(ctx, ev)
	}
	m.notePeak(conf)
	m.noteState()
}

// noteFrame buffers the frame and updates the shared counters.
func (m *Monitor) noteFrame(f *frame.Frame) (frame.BufferedFrame, error) {
	bf, err := m.buffer.AddFrame(f)
	if err != nil {
		return frame.BufferedFrame{}, err
	}
	framesTotal.Inc()
	m.mu.Lock()
	m.framesSeen++
	m.lastFrameAt = f.Timestamp
	m.lastJPEG = bf.JPEG
	m.mu.Unlock()
	return bf, nil
}

// runDetection sends the compressed frame to the detector and applies
// the subject filter.
func (m *Monitor) runDetection(ctx context.Context, f *frame.Frame, bf frame.BufferedFrame) (bool, float64, error) {
	infrared := frame.Infrared(f)
	result, err := m.detector.Detect(ctx, bf.JPEG, m.presence.Threshold(infrared))
	if err != nil {
		detectorErrors.Inc()
		m.log.Debugf("detection failed: %v", err)
		return false, 0, err
	}
	detected, conf := m.presence.Evaluate(result, infrared)
	if detected {
		detectionsTotal.Inc()
	}
	return detected, conf, nil
}

func (m *Monitor) notePeak(conf float64) {
	m.mu.Lock()
	if m.visit != nil && conf > m.visit.peak {
		m.visit.peak = conf
	}
	m.mu.Unlock()
}

func (m *Monitor) handleEvent(ctx context.Context, ev behavior.Event) {
	if m.Sink != nil {
		m.Sink(string(ev.Type), ev.Timestamp, ev.Meta)
	}
	switch ev.Type {
	case behavior.EventArrived:
		m.openVisit(ev.Timestamp, false)
		m.log.Eventf("%s arrived", m.cfg.SubjectLabel)
		thumb := m.visitThumbnail()
		go m.gate.OnArrival(ctx, ev.Timestamp, thumb)

	case behavior.EventStartupConfirmed:
		m.openVisit(m.machine.VisitStart(), true)
		m.log.Eventf("%s present at startup, treating as roosting", m.cfg.SubjectLabel)
		m.clipMgr.ScheduleInitial(ev.Timestamp)

	case behavior.EventRoosting:
		m.rec.LogEvent("roosting", ev.Timestamp, ev.Meta)
		m.clipMgr.ScheduleStateChange("roosting", ev.Timestamp)
		m.log.Eventf("%s is roosting", m.cfg.SubjectLabel)

	case behavior.EventActivityStart:
		m.rec.LogEvent("activity_start", ev.Timestamp, ev.Meta)
		m.clipMgr.ScheduleStateChange("activity", ev.Timestamp)
		m.log.Eventf("activity during roosting")

	case behavior.EventActivityEnd:
		m.rec.LogEvent("activity_end", ev.Timestamp, ev.Meta)
		m.clipMgr.ScheduleStateChange("roosting", ev.Timestamp)
		m.log.Eventf("activity ended, back to roosting")

	case behavior.EventDeparted:
		m.closeVisit(ctx, ev)
	}
}

// openVisit starts the visit recording with buffered lead-in and the
// bookkeeping record. startup visits skip the arrival notification.
func (m *Monitor) openVisit(start time.Time, startup bool) {
	leadIn := m.buffer.FramesBefore(start, m.cfg.ClipArrivalBefore)
	if err := m.rec.StartRecording(start, leadIn, m.width, m.height); err != nil {
		m.log.Errorf("start recording: %v", err)
	}

	local := start.In(m.cfg.Location())
	v := &activeVisit{
		id:    local.Format("20060102_150405"),
		start: start,
	}

	m.mu.Lock()
	jpeg := m.lastJPEG
	m.visit = v
	m.mu.Unlock()

	if len(jpeg) > 0 {
		kind := "arrival"
		if startup {
			kind = "initial"
		}
		thumb := clips.SiblingPath(m.visitFileName(start), kind, "jpg")
		if err := clips.WriteThumbnail(jpeg, thumb); err != nil {
			m.log.Warnf("write thumbnail: %v", err)
		} else {
			m.mu.Lock()
			v.thumbnail = thumb
			m.mu.Unlock()
		}
	}
}

// closeVisit finalizes the recording, persists the visit, schedules the
// sub-clips, and notifies.
func (m *Monitor) closeVisit(ctx context.Context, ev behavior.Event) {
	m.clipMgr.CancelStateChange()

	m.mu.Lock()
	v := m.visit
	m.visit = nil
	m.mu.Unlock()
	if v == nil {
		m.log.Warnf("departure without an open visit")
		return
	}

	rec, err := m.rec.StopRecording(ev.Timestamp)
	if err != nil {
		m.log.Errorf("stop recording: %v", err)
	}

	duration := ev.Timestamp.Sub(v.start)
	durStr := events.DurationString(duration)
	end := ev.Timestamp

	record := events.VisitRecord{
		ID:              v.id,
		StartTime:       v.start,
		EndTime:         &end,
		DurationSeconds: int(duration.Seconds()),
		DurationStr:     durStr,
		PeakConfidence:  v.peak,
		ThumbnailPath:   v.thumbnail,
	}
	if rec != nil {
		record.ArrivalClipPath = clips.ArrivalClipPath(rec)
		record.DepartureClipPath = clips.DepartureClipPath(rec)
		m.clipMgr.ScheduleVisitClips(rec)
	}

	if err := m.store.Append(record); err != nil {
		m.log.Errorf("persist visit: %v", err)
	}
	if m.idx != nil {
		if err := m.idx.SaveVisit(m.cfg.StreamID, m.store.DateOf(v.start), record); err != nil {
			m.log.Errorf("index visit: %v", err)
		}
	}

	visitsTotal.Inc()
	m.log.Eventf("%s departed after %s (peak confidence %.3f)",
		m.cfg.SubjectLabel, durStr, v.peak)
	go m.gate.OnDeparture(ctx, ev.Timestamp, v.thumbnail, durStr)
}

// shutdown force-stops any recording and persists a half-open visit.
func (m *Monitor) shutdown() {
	now := time.Now()

	m.mu.Lock()
	v := m.visit
	m.visit = nil
	m.mu.Unlock()

	var rec *recorder.Recording
	if m.rec != nil {
		rec = m.rec.ForceStop(now)
	}
	if m.clipMgr != nil {
		m.clipMgr.Close()
	}
	m.capture.Disconnect()

	if v != nil {
		record := events.VisitRecord{
			ID:              v.id,
			StartTime:       v.start,
			DurationSeconds: int(now.Sub(v.start).Seconds()),
			DurationStr:     events.DurationString(now.Sub(v.start)),
			PeakConfidence:  v.peak,
			ThumbnailPath:   v.thumbnail,
		}
		if rec != nil {
			record.ArrivalClipPath = clips.ArrivalClipPath(rec)
		}
		if err := m.store.Append(record); err != nil {
			m.log.Errorf("persist half-open visit: %v", err)
		}
		m.log.Eventf("visit interrupted by shutdown")
	}
}

func (m *Monitor) visitThumbnail() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.visit == nil {
		return ""
	}
	return m.visit.thumbnail
}

// visitFileName predicts the recorder's visit file path for a start time.
func (m *Monitor) visitFileName(start time.Time) string {
	local := start.In(m.cfg.Location())
	return filepath.Join(m.cfg.ClipsRoot(), local.Format("2006-01-02"),
		fmt.Sprintf("%s_%s_visit.mp4", m.cfg.SubjectLabel, local.Format("150405")))
}
