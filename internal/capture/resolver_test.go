package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New("", logging.LevelError, false)
	require.NoError(t, err)
	return log
}

func TestNeedsResolution(t *testing.T) {
	cases := []struct {
		source string
		want   bool
	}{
		{"https://www.youtube.com/watch?v=abc123", true},
		{"https://youtu.be/abc123", true},
		{"https://www.twitch.tv/somechannel", true},
		{"rtsp://192.168.1.10:554/stream", false},
		{"https://example.com/live/playlist.m3u8", false},
		{"/var/media/test.mp4", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NeedsResolution(tc.source), tc.source)
	}
}

func TestResolvePassthrough(t *testing.T) {
	r := NewResolver("", 1080, testLogger(t))
	got, err := r.Resolve(context.Background(), "rtsp://cam.local/stream")
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam.local/stream", got)
}

func TestResolveCooldownFailsFast(t *testing.T) {
	r := NewResolver("", 1080, testLogger(t))
	r.failedAt = time.Now().Add(-10 * time.Second)

	_, err := r.Resolve(context.Background(), "https://youtu.be/abc")
	require.Error(t, err)

	var rerr *ResolverError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Error(), "cooldown")
}

func TestResolveCooldownExpires(t *testing.T) {
	r := NewResolver("/bin/false", 1080, testLogger(t))
	r.failedAt = time.Now().Add(-recoveryCooldown - time.Second)

	// Cooldown has lapsed, so resolution is attempted again. The stub
	// binary fails, which re-arms the cooldown.
	_, err := r.Resolve(context.Background(), "https://youtu.be/abc")
	require.Error(t, err)
	assert.WithinDuration(t, time.Now(), r.failedAt, 5*time.Second)
}

// writeStub drops an executable shell script standing in for yt-dlp.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestFallbackClientRetry(t *testing.T) {
	// Fails with a precondition error unless the alternate client args
	// are present.
	stub := writeStub(t, `#!/bin/sh
for a in "$@"; do
  if [ "$a" = "--extractor-args" ]; then
    echo "https://cdn.example/live.m3u8"
    exit 0
  fi
done
echo "ERROR: Precondition check failed" >&2
exit 1
`)
	r := NewResolver(stub, 1080, testLogger(t))
	direct, err := r.Resolve(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/live.m3u8", direct)
	assert.True(t, r.UsedFallback())

	// A resolution that succeeds without the retry clears the flag.
	r.Bin = writeStub(t, "#!/bin/sh\necho \"https://cdn.example/live.m3u8\"\n")
	_, err = r.Resolve(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.False(t, r.UsedFallback())
}

func TestParseFrameRate(t *testing.T) {
	assert.Equal(t, 30, parseFrameRate("30/1"))
	assert.Equal(t, 30, parseFrameRate("30000/1001"))
	assert.Equal(t, 25, parseFrameRate("25/1"))
	assert.Equal(t, 0, parseFrameRate("0/0"))
	assert.Equal(t, 0, parseFrameRate("garbage"))
}
