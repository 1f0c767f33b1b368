package recorder

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/encoder"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/frame"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

const (
	writeTimeout = 500 * time.Millisecond
	stopTimeout  = 30 * time.Second
	frameQueue   = 64
)

// Marker is an event recorded mid-stream at a frame offset in the file.
type Marker struct {
	Type          string                 `json:"type"`
	OffsetSeconds float64                `json:"offset_seconds"`
	Timestamp     time.Time              `json:"timestamp"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

// Recording is the metadata returned when a visit recording closes.
type Recording struct {
	VisitFile                string
	VisitStart               time.Time
	VisitEnd                 time.Time
	RecordingStart           time.Time
	DurationSeconds          float64
	RecordingDurationSeconds float64
	FrameCount               uint64
	FPS                      int
	Events                   []Marker
}

// VisitRecorder pipes raw BGR24 frames into an ffmpeg subprocess for the
// duration of one visit. At most one recording is active at a time; a
// second StartRecording force-stops the first.
type VisitRecorder struct {
	FFmpegBin string

	builder   *encoder.Builder
	clipsRoot string
	label     string
	loc       *time.Location
	log       *logging.Logger

	mu  sync.Mutex
	rec *activeRecording
}

type activeRecording struct {
	cmd        *exec.Cmd
	frames     chan []byte
	writerDone chan struct{}

	tmpPath    string
	finalPath  string
	stderrPath string

	visitStart     time.Time
	recordingStart time.Time
	width, height  int

	counterMu sync.Mutex
	written   uint64
	events    []Marker
}

// New creates a recorder writing under the clips root with the given
// subject label in filenames.
func New(b *encoder.Builder, clipsRoot, label string, loc *time.Location, log *logging.Logger) *VisitRecorder {
	return &VisitRecorder{
		FFmpegBin: "ffmpeg",
		builder:   b,
		clipsRoot: clipsRoot,
		label:     label,
		loc:       loc,
		log:       log.Module("recorder"),
	}
}

// Active reports whether a recording is in progress.
func (r *VisitRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec != nil
}

// RecordingStart returns the start time of the active recording.
func (r *VisitRecorder) RecordingStart() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return time.Time{}, false
	}
	return r.rec.recordingStart, true
}

// visitPaths composes the dated directory and the recording's file
// names using the stream's local time zone.
func (r *VisitRecorder) visitPaths(arrival time.Time) (dir, final, tmp, stderrPath string) {
	local := arrival.In(r.loc)
	dir = filepath.Join(r.clipsRoot, local.Format("2006-01-02"))
	base := fmt.Sprintf("%s_%s_visit.mp4", r.label, local.Format("150405"))
	final = filepath.Join(dir, base)
	return dir, final, final + ".tmp", final + ".stderr.log"
}

// StartRecording launches the encoder and writes the buffered lead-in.
// The recording's start time is backdated by the lead-in duration so
// that offsets inside the file line up with real timestamps.
func (r *VisitRecorder) StartRecording(arrival time.Time, leadIn []frame.BufferedFrame, width, height int) error {
	r.mu.Lock()
	if r.rec != nil {
		r.mu.Unlock()
		r.log.Warnf("recording already active, force-stopping before new visit")
		r.ForceStop(time.Now())
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	dir, final, tmp, stderrPath := r.visitPaths(arrival)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create clip dir: %w", err)
	}

	rec := &activeRecording{
		frames:         make(chan []byte, frameQueue),
		writerDone:     make(chan struct{}),
		finalPath:      final,
		tmpPath:        tmp,
		stderrPath:     stderrPath,
		visitStart:     arrival,
		recordingStart: arrival.Add(-leadInDuration(len(leadIn), r.builder.FPS)),
		width:          width,
		height:         height,
	}

	// stderr goes to a file. A pipe would fill, back-pressure the
	// encoder off stdin, and deadlock the frame writer.
	stderrFile, err := os.Create(rec.stderrPath)
	if err != nil {
		return fmt.Errorf("create encoder stderr log: %w", err)
	}

	cmd := exec.Command(r.FFmpegBin, r.builder.RecordArgs(width, height, rec.tmpPath)...)
	cmd.Stderr = stderrFile
	stdin, err := cmd.StdinPipe()
	if err != nil {
		stderrFile.Close()
		return fmt.Errorf("encoder stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		return fmt.Errorf("start encoder: %w", err)
	}
	rec.cmd = cmd

	go func() {
		defer close(rec.writerDone)
		defer stdin.Close()
		defer stderrFile.Close()
		for data := range rec.frames {
			if _, err := stdin.Write(data); err != nil {
				r.log.Errorf("encoder stdin write failed: %v", err)
				return
			}
			rec.counterMu.Lock()
			rec.written++
			rec.counterMu.Unlock()
		}
	}()

	rec.events = append(rec.events, Marker{
		Type:      "arrival",
		Timestamp: arrival,
	})

	r.rec = rec
	r.log.Infof("recording started: %s (%d lead-in frames)", rec.finalPath, len(leadIn))

	// Replay the buffered lead-in through the same queue.
	for i := range leadIn {
		bgr, w, h, err := frame.DecodeJPEG(leadIn[i].JPEG)
		if err != nil || w != width || h != height {
			continue
		}
		select {
		case rec.frames <- bgr:
		case <-time.After(writeTimeout):
			r.log.Warnf("encoder stalled during lead-in, dropping frame")
		}
	}
	return nil
}

// WriteFrame queues one raw frame for the encoder. If the encoder has
// stalled the frame is dropped after 500 ms rather than blocking the
// detection loop.
func (r *VisitRecorder) WriteFrame(f *frame.Frame) {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	if rec == nil {
		return
	}
	if f.Width != rec.width || f.Height != rec.height {
		return
	}

	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	select {
	case rec.frames <- data:
	case <-rec.writerDone:
	case <-time.After(writeTimeout):
		r.log.Warnf("encoder not accepting frames, dropped frame %d", f.Number)
	}
}

// LogEvent appends a marker at the current file offset.
func (r *VisitRecorder) LogEvent(kind string, ts time.Time, meta map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return
	}
	r.rec.appendMarker(kind, ts, meta, r.builder.FPS)
}

func (rec *activeRecording) appendMarker(kind string, ts time.Time, meta map[string]interface{}, fps int) {
	rec.counterMu.Lock()
	offset := float64(rec.written) / float64(fps)
	rec.events = append(rec.events, Marker{
		Type:          kind,
		OffsetSeconds: offset,
		Timestamp:     ts,
		Meta:          meta,
	})
	rec.counterMu.Unlock()
}

// StopRecording closes the encoder, finalizes the file, and returns the
// visit metadata. VisitEnd is the departure time, which precedes the end
// of the file when lead-out frames were written.
func (r *VisitRecorder) StopRecording(departure time.Time) (*Recording, error) {
	r.mu.Lock()
	rec := r.rec
	r.rec = nil
	r.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("no active recording")
	}

	rec.appendMarker("departure", departure, nil, r.builder.FPS)

	close(rec.frames)
	<-rec.writerDone

	waitDone := make(chan error, 1)
	go func() { waitDone <- rec.cmd.Wait() }()
	select {
	case err := <-waitDone:
		if err != nil {
			r.log.Warnf("encoder exited with error: %v (stderr: %s)", err, rec.stderrPath)
		}
	case <-time.After(stopTimeout):
		r.log.Errorf("encoder did not exit within %s, killing", stopTimeout)
		_ = rec.cmd.Process.Kill()
		<-waitDone
	}

	if err := os.Rename(rec.tmpPath, rec.finalPath); err != nil {
		return nil, fmt.Errorf("finalize recording: %w", err)
	}
	_ = os.Remove(rec.stderrPath)

	rec.counterMu.Lock()
	written := rec.written
	events := rec.events
	rec.counterMu.Unlock()

	out := &Recording{
		VisitFile:                rec.finalPath,
		VisitStart:               rec.visitStart,
		VisitEnd:                 departure,
		RecordingStart:           rec.recordingStart,
		DurationSeconds:          departure.Sub(rec.visitStart).Seconds(),
		RecordingDurationSeconds: float64(written) / float64(r.builder.FPS),
		FrameCount:               written,
		FPS:                      r.builder.FPS,
		Events:                   events,
	}
	r.log.Infof("recording stopped: %s (%d frames, %.1fs)",
		out.VisitFile, out.FrameCount, out.RecordingDurationSeconds)
	return out, nil
}

func leadInDuration(frames, fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(fps) * float64(time.Second))
}

// ForceStop ends any active recording, logging rather than returning
// failures. Used on shutdown and on overlapping starts.
func (r *VisitRecorder) ForceStop(now time.Time) *Recording {
	if !r.Active() {
		return nil
	}
	rec, err := r.StopRecording(now)
	if err != nil {
		r.log.Errorf("force stop: %v", err)
		return nil
	}
	return rec
}
