package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/frame"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

const (
	probeGeometryTimeout = 20 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectDelay    = 60 * time.Second
)

// Capture owns the ffmpeg decode subprocess that turns the stream into
// raw BGR24 frames on a pipe. It reconnects internally: a broken stream
// costs frames, never the process.
type Capture struct {
	FFmpegBin  string
	FFprobeBin string

	source   string
	resolver *Resolver
	log      *logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	width   int
	height  int
	fps     int
	nextNum uint64
}

// New creates a capture for the configured video source.
func New(source string, resolver *Resolver, log *logging.Logger) *Capture {
	return &Capture{
		FFmpegBin:  "ffmpeg",
		FFprobeBin: "ffprobe",
		source:     source,
		resolver:   resolver,
		log:        log.Module("capture"),
	}
}

// Geometry returns the negotiated frame size and rate. Valid after a
// successful Connect.
func (c *Capture) Geometry() (width, height, fps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height, c.fps
}

// Connect resolves the source and starts the decode subprocess. Safe to
// call again after a failure; any previous subprocess is torn down first.
func (c *Capture) Connect(ctx context.Context) error {
	c.Disconnect()

	direct, err := c.resolver.Resolve(ctx, c.source)
	if err != nil {
		return err
	}
	if c.resolver.UsedFallback() {
		c.log.Infof("stream resolved via fallback player client")
	}

	w, h, fps, err := c.probeGeometry(ctx, direct)
	if err != nil {
		return fmt.Errorf("probe stream geometry: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.FFmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-i", direct,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-an",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdout = stdout
	c.width, c.height, c.fps = w, h, fps
	c.mu.Unlock()

	c.log.Infof("connected to stream at %dx%d @ %d fps", w, h, fps)
	return nil
}

// Disconnect tears down the decode subprocess if one is running.
func (c *Capture) Disconnect() {
	c.mu.Lock()
	cmd, stdout := c.cmd, c.stdout
	c.cmd, c.stdout = nil, nil
	c.mu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// ReadFrame blocks until a full frame arrives on the decoder pipe.
func (c *Capture) ReadFrame() (*frame.Frame, error) {
	c.mu.Lock()
	stdout := c.stdout
	w, h := c.width, c.height
	c.mu.Unlock()

	if stdout == nil {
		return nil, fmt.Errorf("not connected")
	}

	buf := make([]byte, frame.ByteSize(w, h))
	if _, err := io.ReadFull(stdout, buf); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	c.mu.Lock()
	c.nextNum++
	n := c.nextNum
	c.mu.Unlock()

	return &frame.Frame{
		Data:      buf,
		Width:     w,
		Height:    h,
		Number:    n,
		Timestamp: time.Now(),
	}, nil
}

// Frames returns a channel of decoded frames, keeping every skip-th frame
// (skip <= 1 keeps all). The goroutine reconnects on stream errors with
// backoff and closes the channel only when ctx is done or reconnection
// keeps failing past the resolver's cooldown.
func (c *Capture) Frames(ctx context.Context, skip int) <-chan *frame.Frame {
	if skip < 1 {
		skip = 1
	}
	out := make(chan *frame.Frame)

	go func() {
		defer close(out)
		defer c.Disconnect()

		delay := reconnectDelay
		var n uint64
		for {
			f, err := c.ReadFrame()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warnf("stream read failed: %v, reconnecting in %s", err, delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				if cerr := c.Connect(ctx); cerr != nil {
					c.log.Errorf("reconnect failed: %v", cerr)
					var rerr *ResolverError
					if errors.As(cerr, &rerr) && ctx.Err() == nil {
						// Resolution is down; keep trying on the slow path.
						delay = maxReconnectDelay
						continue
					}
					if delay < maxReconnectDelay {
						delay *= 2
					}
					continue
				}
				delay = reconnectDelay
				continue
			}

			n++
			if n%uint64(skip) != 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- f:
			}
		}
	}()
	return out
}

// probeGeometry asks ffprobe for the stream's frame size and rate.
func (c *Capture) probeGeometry(ctx context.Context, direct string) (int, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, probeGeometryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.FFprobeBin,
		"-hide_banner", "-loglevel", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate",
		"-of", "json",
		direct,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, 0, 0, err
	}

	var probe struct {
		Streams []struct {
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			FrameRate string `json:"r_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &probe); err != nil {
		return 0, 0, 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return 0, 0, 0, fmt.Errorf("no video stream found")
	}

	s := probe.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return 0, 0, 0, fmt.Errorf("invalid geometry %dx%d", s.Width, s.Height)
	}
	fps := parseFrameRate(s.FrameRate)
	if fps <= 0 {
		fps = 30
	}
	return s.Width, s.Height, fps, nil
}

// parseFrameRate converts ffprobe's "num/den" rational to a rounded int.
func parseFrameRate(r string) int {
	var num, den int
	if _, err := fmt.Sscanf(r, "%d/%d", &num, &den); err != nil || den == 0 {
		return 0
	}
	return (num + den/2) / den
}
