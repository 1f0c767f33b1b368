package clips

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/encoder"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/frame"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/recorder"
)

// Extractor produces sub-clips from visit recordings (stream copy) and
// standalone clips from buffered frames (re-encode).
type Extractor struct {
	FFmpegBin string

	builder *encoder.Builder
	log     *logging.Logger
}

// NewExtractor creates an extractor sharing the encoder configuration
// with the visit recorder, so both produce identical containers.
func NewExtractor(b *encoder.Builder, log *logging.Logger) *Extractor {
	return &Extractor{FFmpegBin: "ffmpeg", builder: b, log: log.Module("clips")}
}

// SiblingPath derives a clip path next to the visit file, e.g.
// falcon_093000_visit.mp4 -> falcon_093000_arrival.mp4.
func SiblingPath(visitFile, kind, ext string) string {
	base := strings.TrimSuffix(filepath.Base(visitFile), "_visit.mp4")
	return filepath.Join(filepath.Dir(visitFile), fmt.Sprintf("%s_%s.%s", base, kind, ext))
}

// DepartureWindow computes the cut window for the departure clip inside
// the visit file. The clip is centered on the last detection, not the
// end of the file, which may extend into post-departure lead-out.
func DepartureWindow(rec *recorder.Recording, before, after int) (start, duration float64) {
	lastDetectionOffset := rec.VisitEnd.Sub(rec.RecordingStart).Seconds()
	start = lastDetectionOffset - float64(before)
	if start < 0 {
		start = 0
	}
	return start, float64(before + after)
}

// FromRecording cuts [startOffset, startOffset+duration] out of the
// visit file by stream copy and returns the clip path.
func (e *Extractor) FromRecording(rec *recorder.Recording, kind string, startOffset, duration float64) (string, error) {
	out := SiblingPath(rec.VisitFile, kind, "mp4")
	args := e.builder.RemuxArgs(rec.VisitFile, startOffset, duration, out)
	if err := exec.Command(e.FFmpegBin, args...).Run(); err != nil {
		return "", fmt.Errorf("extract %s clip: %w", kind, err)
	}
	return out, nil
}

// FromBuffer re-encodes buffered frames into a standalone clip. Frames
// whose geometry differs from the first frame are skipped.
func (e *Extractor) FromBuffer(frames []frame.BufferedFrame, out string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames in window")
	}
	first, w, h, err := frame.DecodeJPEG(frames[0].JPEG)
	if err != nil {
		return fmt.Errorf("decode first frame: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}

	tmp := out + ".tmp"
	cmd := exec.Command(e.FFmpegBin, e.builder.BufferClipArgs(w, h, tmp)...)
	stderrFile, err := os.Create(tmp + ".stderr.log")
	if err != nil {
		return err
	}
	defer stderrFile.Close()
	defer os.Remove(tmp + ".stderr.log")
	cmd.Stderr = stderrFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}

	if _, werr := stdin.Write(first); werr == nil {
		for _, bf := range frames[1:] {
			bgr, fw, fh, derr := frame.DecodeJPEG(bf.JPEG)
			if derr != nil || fw != w || fh != h {
				continue
			}
			if _, werr = stdin.Write(bgr); werr != nil {
				break
			}
		}
	}
	_ = stdin.Close()

	if err := waitWithTimeout(cmd, 30*time.Second); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("encode buffer clip: %w", err)
	}
	return os.Rename(tmp, out)
}

func waitWithTimeout(cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("encoder did not exit within %s", timeout)
	}
}
