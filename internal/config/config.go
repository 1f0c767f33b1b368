package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the uppercased key name for environment
// overrides, e.g. KANYO_VIDEO_SOURCE.
const EnvPrefix = "KANYO_"

// Config holds the per-stream configuration. All duration-like values are
// in seconds unless the key name says otherwise.
type Config struct {
	VideoSource           string  `yaml:"video_source"`
	DetectionConfidence   float64 `yaml:"detection_confidence"`
	DetectionConfidenceIR float64 `yaml:"detection_confidence_ir"`
	FrameInterval         int     `yaml:"frame_interval"`
	Timezone              string  `yaml:"timezone"`

	ExitTimeout         int `yaml:"exit_timeout"`
	RoostingThreshold   int `yaml:"roosting_threshold"`
	RoostingExitTimeout int `yaml:"roosting_exit_timeout"`
	ActivityTimeout     int `yaml:"activity_timeout"`

	BufferSeconds int `yaml:"buffer_seconds"`

	ClipArrivalBefore       int    `yaml:"clip_arrival_before"`
	ClipArrivalAfter        int    `yaml:"clip_arrival_after"`
	ClipDepartureBefore     int    `yaml:"clip_departure_before"`
	ClipDepartureAfter      int    `yaml:"clip_departure_after"`
	ClipStateChangeBefore   int    `yaml:"clip_state_change_before"`
	ClipStateChangeAfter    int    `yaml:"clip_state_change_after"`
	ClipStateChangeCooldown int    `yaml:"clip_state_change_cooldown"`
	ClipFPS                 int    `yaml:"clip_fps"`
	ClipCRF                 int    `yaml:"clip_crf"`
	ClipsDir                string `yaml:"clips_dir"`

	ArrivalConfirmationSeconds int     `yaml:"arrival_confirmation_seconds"`
	ArrivalConfirmationRatio   float64 `yaml:"arrival_confirmation_ratio"`

	NotificationCooldownMinutes int `yaml:"notification_cooldown_minutes"`

	AnimalClasses   []int `yaml:"animal_classes"`
	DetectAnyAnimal bool  `yaml:"detect_any_animal"`

	MaxRuntimeSeconds int `yaml:"max_runtime_seconds"`

	SubjectLabel     string `yaml:"subject_label"`
	DetectorEndpoint string `yaml:"detector_endpoint"`
	MaxStreamHeight  int    `yaml:"max_stream_height"`
	JPEGQuality      int    `yaml:"jpeg_quality"`
	DataRoot         string `yaml:"data_root"`
	StreamID         string `yaml:"stream_id"`

	AdminListen       string `yaml:"admin_listen"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
	TelegramBotToken  string `yaml:"telegram_bot_token"`
	TelegramChatID    string `yaml:"telegram_chat_id"`

	loc *time.Location
}

// ValidationError reports a rejected configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns the documented defaults. video_source, detector_endpoint
// and stream_id have no default and must come from the file or environment.
func Default() *Config {
	classes := make([]int, 0, 10)
	for c := 14; c <= 23; c++ {
		classes = append(classes, c)
	}
	return &Config{
		DetectionConfidence:         0.5,
		FrameInterval:               30,
		Timezone:                    "UTC",
		ExitTimeout:                 300,
		RoostingThreshold:           1800,
		RoostingExitTimeout:         600,
		ActivityTimeout:             180,
		BufferSeconds:               60,
		ClipArrivalBefore:           15,
		ClipArrivalAfter:            30,
		ClipDepartureBefore:         30,
		ClipDepartureAfter:          15,
		ClipStateChangeBefore:       15,
		ClipStateChangeAfter:        30,
		ClipStateChangeCooldown:     300,
		ClipFPS:                     30,
		ClipCRF:                     23,
		ClipsDir:                    "clips",
		ArrivalConfirmationSeconds:  10,
		ArrivalConfirmationRatio:    0.3,
		NotificationCooldownMinutes: 5,
		AnimalClasses:               classes,
		DetectAnyAnimal:             true,
		SubjectLabel:                "falcon",
		MaxStreamHeight:             1080,
		JPEGQuality:                 85,
		DataRoot:                    ".",
		AdminListen:                 ":8089",
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates. A missing file is not an error (env-only setups).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env-only configuration
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write persists the config atomically (write to temp, rename over).
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays KANYO_<KEY> variables, coercing the string value to
// the type of the struct field carrying the matching yaml tag.
func (c *Config) applyEnv() error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		raw, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(tag))
		if !ok {
			continue
		}
		if err := setFromString(v.Field(i), raw); err != nil {
			return &ValidationError{Field: tag, Reason: err.Error()}
		}
	}
	return nil
}

func setFromString(f reflect.Value, raw string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("expected integer, got %q", raw)
		}
		f.SetInt(int64(n))
	case reflect.Float64:
		x, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("expected number, got %q", raw)
		}
		f.SetFloat(x)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("expected boolean, got %q", raw)
		}
		f.SetBool(b)
	case reflect.Slice:
		// Only []int is used (animal_classes), comma separated.
		parts := strings.Split(raw, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			n, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("expected comma-separated integers, got %q", raw)
			}
			out = append(out, n)
		}
		f.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported override type %s", f.Kind())
	}
	return nil
}

// Validate enforces the behavioral timing invariants and basic sanity.
// It also resolves the configured time zone.
func (c *Config) Validate() error {
	if c.VideoSource == "" {
		return &ValidationError{Field: "video_source", Reason: "required"}
	}
	if c.DetectionConfidence <= 0 || c.DetectionConfidence > 1 {
		return &ValidationError{Field: "detection_confidence", Reason: "must be in (0, 1]"}
	}
	if c.DetectionConfidenceIR < 0 || c.DetectionConfidenceIR > 1 {
		return &ValidationError{Field: "detection_confidence_ir", Reason: "must be in [0, 1]"}
	}
	if c.FrameInterval < 1 {
		return &ValidationError{Field: "frame_interval", Reason: "must be >= 1"}
	}
	if c.BufferSeconds < 1 {
		return &ValidationError{Field: "buffer_seconds", Reason: "must be >= 1"}
	}
	if c.ClipFPS < 1 {
		return &ValidationError{Field: "clip_fps", Reason: "must be >= 1"}
	}
	if c.ArrivalConfirmationRatio < 0 || c.ArrivalConfirmationRatio > 1 {
		return &ValidationError{Field: "arrival_confirmation_ratio", Reason: "must be in [0, 1]"}
	}

	// Timing invariants for the behavior state machine.
	if c.RoostingThreshold <= c.ExitTimeout {
		return &ValidationError{Field: "roosting_threshold", Reason: "must be greater than exit_timeout"}
	}
	if c.ActivityTimeout >= c.RoostingExitTimeout {
		return &ValidationError{Field: "activity_timeout", Reason: "must be less than roosting_exit_timeout"}
	}
	if c.ExitTimeout >= c.RoostingExitTimeout {
		return &ValidationError{Field: "exit_timeout", Reason: "must be less than roosting_exit_timeout"}
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return &ValidationError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", c.Timezone)}
	}
	c.loc = loc
	return nil
}

// Location returns the stream's time zone. Validate must have succeeded.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}
