package encoder

import (
	"fmt"
	"strconv"
)

// Builder assembles ffmpeg argument lists for the single encoder
// configuration shared by the visit recorder and the clip extractor.
type Builder struct {
	Kind Kind
	FPS  int
	CRF  int
}

// deviceArgs returns the input-side device options a hardware encoder
// needs before any -i.
func deviceArgs(kind Kind) []string {
	if kind == KindVAAPI {
		return []string{"-vaapi_device", "/dev/dri/renderD128"}
	}
	return nil
}

// filterArgs returns the video filter chain required to feed the encoder.
// VAAPI consumes hardware surfaces, so raw frames are converted and
// uploaded first.
func filterArgs(kind Kind) []string {
	if kind == KindVAAPI {
		return []string{"-vf", "format=nv12,hwupload"}
	}
	return nil
}

// codecArgs returns the encoder selection plus its quality options.
func (b *Builder) codecArgs() []string {
	args := []string{"-c:v", string(b.Kind)}
	switch b.Kind {
	case KindSoftware:
		args = append(args, "-crf", strconv.Itoa(b.CRF), "-preset", "fast")
	case KindVideoToolbox, KindNVENC, KindQSV, KindAMF:
		// Hardware encoders do not honor -crf; approximate with bitrate.
		args = append(args, "-b:v", "4M")
	case KindVAAPI:
		args = append(args, "-qp", strconv.Itoa(b.CRF))
	}
	return args
}

// RecordArgs produces the argument list for a long-running recording
// process reading raw BGR24 frames on stdin and writing an MP4.
func (b *Builder) RecordArgs(width, height int, outPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(b.FPS),
		"-i", "pipe:0",
	}
	args = append(args, filterArgs(b.Kind)...)
	args = append(args, b.codecArgs()...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-profile:v", "baseline",
		"-movflags", "+faststart",
		"-f", "mp4",
		outPath,
	)
	return withDevice(b.Kind, args)
}

// BufferClipArgs produces the argument list for encoding a clip from
// raw BGR24 frames replayed on stdin (frames decompressed from the
// rolling buffer). Identical to RecordArgs apart from intent; kept
// separate so the call sites read clearly.
func (b *Builder) BufferClipArgs(width, height int, outPath string) []string {
	return b.RecordArgs(width, height, outPath)
}

// RemuxArgs produces a stream-copy cut of an existing recording. No
// re-encode happens, so cut points land on the nearest keyframes.
func (b *Builder) RemuxArgs(srcPath string, startSeconds, durationSeconds float64, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-ss", formatSeconds(startSeconds),
		"-i", srcPath,
		"-t", formatSeconds(durationSeconds),
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	}
}

// withDevice prepends device options, which must precede the input.
func withDevice(kind Kind, args []string) []string {
	dev := deviceArgs(kind)
	if len(dev) == 0 {
		return args
	}
	return append(append([]string{}, dev...), args...)
}

func formatSeconds(s float64) string {
	if s < 0 {
		s = 0
	}
	return strconv.FormatFloat(s, 'f', 3, 64)
}
