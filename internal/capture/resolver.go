package capture

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

// platformHosts lists hosts whose URLs need yt-dlp resolution before
// ffmpeg can open them. Anything else (RTSP, local files, direct HLS)
// is passed through untouched.
var platformHosts = []string{
	"youtube.com",
	"youtu.be",
	"twitch.tv",
	"dailymotion.com",
	"vimeo.com",
}

const (
	resolveTimeout   = 30 * time.Second
	recoveryCooldown = 300 * time.Second
)

// ResolverError wraps a failed stream URL resolution.
type ResolverError struct {
	Source string
	Output string
	Err    error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Source, e.Err)
}

func (e *ResolverError) Unwrap() error { return e.Err }

// Resolver turns a platform page URL into a direct media URL via yt-dlp.
// Resolution failures start a cooldown during which Resolve fails fast,
// so a dead stream does not hammer the platform with retries.
type Resolver struct {
	Bin       string
	MaxHeight int

	mu           sync.Mutex
	failedAt     time.Time
	usedFallback bool
	log          *logging.Logger
}

// NewResolver creates a resolver using the given yt-dlp binary
// ("" = "yt-dlp") capped at maxHeight pixels.
func NewResolver(bin string, maxHeight int, log *logging.Logger) *Resolver {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Resolver{Bin: bin, MaxHeight: maxHeight, log: log.Module("capture")}
}

// NeedsResolution reports whether the source URL points at a streaming
// platform rather than a directly openable media URL.
func NeedsResolution(source string) bool {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, h := range platformHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Resolve returns a direct media URL for the source. Platform URLs go
// through yt-dlp; anything else is returned as-is.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, error) {
	if !NeedsResolution(source) {
		return source, nil
	}

	r.mu.Lock()
	if !r.failedAt.IsZero() && time.Since(r.failedAt) < recoveryCooldown {
		wait := recoveryCooldown - time.Since(r.failedAt)
		r.mu.Unlock()
		return "", &ResolverError{
			Source: source,
			Err:    fmt.Errorf("in recovery cooldown for another %s", wait.Round(time.Second)),
		}
	}
	r.mu.Unlock()

	alternate := false
	out, stderr, err := r.run(ctx, source, false)
	if err != nil && strings.Contains(stderr, "Precondition check failed") {
		// YouTube sometimes rejects the default player client on live
		// streams. One retry with an alternate client usually clears it.
		r.log.Warnf("resolution hit precondition failure, retrying with alternate client")
		alternate = true
		out, stderr, err = r.run(ctx, source, true)
	}
	if err != nil {
		r.mu.Lock()
		r.failedAt = time.Now()
		r.mu.Unlock()
		return "", &ResolverError{Source: source, Output: stderr, Err: err}
	}

	r.mu.Lock()
	r.failedAt = time.Time{}
	r.usedFallback = alternate
	r.mu.Unlock()

	direct := strings.TrimSpace(out)
	if direct == "" {
		return "", &ResolverError{Source: source, Output: stderr, Err: fmt.Errorf("yt-dlp returned no URL")}
	}
	// Multiple formats come back one per line; the first is video.
	if i := strings.IndexByte(direct, '\n'); i >= 0 {
		direct = direct[:i]
	}
	return direct, nil
}

// UsedFallback reports whether the most recent successful resolution
// needed the alternate player client. A later resolution that succeeds
// without it clears the flag.
func (r *Resolver) UsedFallback() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedFallback
}

func (r *Resolver) run(ctx context.Context, source string, alternateClient bool) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	args := []string{
		"-f", fmt.Sprintf("best[height<=%d]", r.MaxHeight),
		"-g",
		"--no-warnings",
	}
	if alternateClient {
		args = append(args, "--extractor-args", "youtube:player_client=ios")
	}
	args = append(args, source)

	cmd := exec.CommandContext(ctx, r.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
