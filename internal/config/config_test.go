package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBase() *Config {
	cfg := Default()
	cfg.VideoSource = "rtsp://cam.local/stream"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.5, cfg.DetectionConfidence)
	assert.Equal(t, 30, cfg.FrameInterval)
	assert.Equal(t, 60, cfg.BufferSeconds)
	assert.Equal(t, 300, cfg.ExitTimeout)
	assert.Equal(t, 1800, cfg.RoostingThreshold)
	assert.Equal(t, "falcon", cfg.SubjectLabel)
	assert.Equal(t, []int{14, 15, 16, 17, 18, 19, 20, 21, 22, 23}, cfg.AnimalClasses)
	assert.True(t, cfg.DetectAnyAnimal)
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("KANYO_VIDEO_SOURCE", "rtsp://cam.local/stream")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam.local/stream", cfg.VideoSource)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kanyo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"video_source: rtsp://file.example/stream\nexit_timeout: 120\n"), 0o644))

	t.Setenv("KANYO_EXIT_TIMEOUT", "240")
	t.Setenv("KANYO_DETECTION_CONFIDENCE", "0.7")
	t.Setenv("KANYO_DETECT_ANY_ANIMAL", "false")
	t.Setenv("KANYO_ANIMAL_CLASSES", "14, 21")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://file.example/stream", cfg.VideoSource)
	assert.Equal(t, 240, cfg.ExitTimeout, "env wins over file")
	assert.Equal(t, 0.7, cfg.DetectionConfidence)
	assert.False(t, cfg.DetectAnyAnimal)
	assert.Equal(t, []int{14, 21}, cfg.AnimalClasses)
}

func TestEnvRejectsBadValue(t *testing.T) {
	t.Setenv("KANYO_VIDEO_SOURCE", "rtsp://cam.local/stream")
	t.Setenv("KANYO_FRAME_INTERVAL", "often")

	_, err := Load("")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "frame_interval", verr.Field)
}

func TestValidateTimingInvariants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"roosting threshold below exit", func(c *Config) { c.RoostingThreshold = c.ExitTimeout }, "roosting_threshold"},
		{"activity above roosting exit", func(c *Config) { c.ActivityTimeout = c.RoostingExitTimeout }, "activity_timeout"},
		{"exit above roosting exit", func(c *Config) { c.ExitTimeout = c.RoostingExitTimeout; c.RoostingThreshold = c.RoostingExitTimeout * 2 }, "exit_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBase()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateRequiresSource(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "video_source", verr.Field)
}

func TestValidateResolvesTimezone(t *testing.T) {
	cfg := validBase()
	cfg.Timezone = "Europe/Budapest"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Europe/Budapest", cfg.Location().String())

	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := validBase()
	cfg.StreamID = "nest-cam"
	path := filepath.Join(t.TempDir(), "kanyo.yaml")
	require.NoError(t, cfg.Write(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.VideoSource, loaded.VideoSource)
	assert.Equal(t, cfg.StreamID, loaded.StreamID)
}

func TestPaths(t *testing.T) {
	cfg := validBase()
	cfg.DataRoot = "/var/kanyo"
	cfg.StreamID = "nest-cam"
	assert.Equal(t, "/var/kanyo/nest-cam", cfg.StreamDir())
	assert.Equal(t, "/var/kanyo/nest-cam/clips", cfg.ClipsRoot())
	assert.Equal(t, "/var/kanyo/nest-cam/logs", cfg.LogsDir())

	cfg.StreamID = ""
	assert.Equal(t, "/var/kanyo", cfg.StreamDir())
}
