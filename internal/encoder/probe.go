package encoder

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

// Kind names an H.264 encoder implementation as ffmpeg knows it.
type Kind string

const (
	KindVideoToolbox Kind = "h264_videotoolbox"
	KindNVENC        Kind = "h264_nvenc"
	KindVAAPI        Kind = "h264_vaapi"
	KindQSV          Kind = "h264_qsv"
	KindAMF          Kind = "h264_amf"
	KindSoftware     Kind = "libx264"
)

const probeTimeout = 10 * time.Second

// Probe discovers an available hardware H.264 encoder by test-encoding a
// synthetic clip with each candidate and caching the first that exits
// cleanly. Software libx264 is the fallback and always wins eventually.
type Probe struct {
	Bin string

	mu     sync.Mutex
	cached Kind
	done   bool
	log    *logging.Logger
}

// NewProbe creates a probe using the given ffmpeg binary ("" = "ffmpeg").
func NewProbe(bin string, log *logging.Logger) *Probe {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Probe{Bin: bin, log: log.Module("encoder")}
}

// Detect returns the cached result, probing on first use.
func (p *Probe) Detect(ctx context.Context) Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.cached
	}
	p.cached = p.probe(ctx, false)
	p.done = true
	return p.cached
}

// DetectVerbose re-probes every candidate and logs each outcome,
// bypassing the cache. Meant for diagnostics.
func (p *Probe) DetectVerbose(ctx context.Context) Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = p.probe(ctx, true)
	p.done = true
	return p.cached
}

func (p *Probe) candidates() []Kind {
	var out []Kind
	if runtime.GOOS == "darwin" {
		out = append(out, KindVideoToolbox)
	}
	out = append(out, KindNVENC)
	if runtime.GOOS == "linux" {
		out = append(out, KindVAAPI)
	}
	out = append(out, KindQSV, KindAMF)
	return out
}

func (p *Probe) probe(ctx context.Context, verbose bool) Kind {
	available := p.listEncoders(ctx)

	for _, kind := range p.candidates() {
		if !available[string(kind)] {
			if verbose {
				p.log.Infof("encoder %s not listed by %s", kind, p.Bin)
			}
			continue
		}
		if err := p.testEncode(ctx, kind); err != nil {
			if verbose {
				p.log.Infof("encoder %s failed test encode: %v", kind, err)
			}
			continue
		}
		p.log.Infof("using hardware encoder %s", kind)
		return kind
	}

	p.log.Infof("no hardware encoder available, using %s", KindSoftware)
	return KindSoftware
}

// listEncoders parses `ffmpeg -encoders` into a name set.
func (p *Probe) listEncoders(ctx context.Context) map[string]bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Bin, "-hide_banner", "-encoders")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		p.log.Warnf("encoder listing failed: %v", err)
		return nil
	}

	out := make(map[string]bool)
	for _, line := range strings.Split(stdout.String(), "\n") {
		fields := strings.Fields(line)
		// Format: " V....D h264_nvenc    NVIDIA NVENC H.264 encoder"
		if len(fields) >= 2 && strings.HasPrefix(fields[0], "V") {
			out[fields[1]] = true
		}
	}
	return out
}

// testEncode transcodes one second of synthetic input through the
// candidate encoder to a null sink.
func (p *Probe) testEncode(ctx context.Context, kind Kind) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=30",
	}
	args = append(args, deviceArgs(kind)...)
	args = append(args, filterArgs(kind)...)
	args = append(args, "-c:v", string(kind), "-f", "null", "-")

	return exec.CommandContext(ctx, p.Bin, args...).Run()
}
