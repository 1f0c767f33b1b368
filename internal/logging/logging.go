package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level values match the numeric log levels used across the project.
// EVENT sits between INFO and WARNING so that behavioral events survive
// a WARNING-level filter on INFO noise.
type Level int

const (
	LevelDebug Level = 10
	LevelInfo  Level = 20
	LevelEvent Level = 25
	LevelWarn  Level = 30
	LevelError Level = 40
)

// ParseLevel maps a level name to its value. Unknown names default to INFO.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug
	case "EVENT":
		return LevelEvent
	case "WARNING", "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelEvent:
		return "EVENT"
	case LevelWarn:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Logger writes lines of the form
//
//	2025-01-01 00:00:00 UTC | INFO | module | message
//
// to a daily-rotated file (and optionally stderr). zerolog is the engine;
// the wrapper adds the EVENT level and the fixed line layout.
type Logger struct {
	zl     zerolog.Logger
	min    Level
	module string
}

// New creates the root logger writing to dir/kanyo.log. When dir is empty
// the logger writes to stderr only.
func New(dir string, min Level, mirrorStderr bool) (*Logger, error) {
	var sinks []io.Writer
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		rw, err := newRotatingWriter(dir, "kanyo.log")
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, rw)
	}
	if mirrorStderr || dir == "" {
		sinks = append(sinks, os.Stderr)
	}

	out := zerolog.ConsoleWriter{
		Out:     io.MultiWriter(sinks...),
		NoColor: true,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"module",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"module"},
		// The raw field is RFC3339; the line contract wants
		// "2006-01-02 15:04:05 UTC".
		FormatTimestamp: func(i interface{}) string {
			ts, err := time.Parse(time.RFC3339, fmt.Sprint(i))
			if err != nil {
				return fmt.Sprintf("%s |", i)
			}
			return ts.UTC().Format("2006-01-02 15:04:05") + " UTC |"
		},
		FormatLevel: func(i interface{}) string {
			return fmt.Sprintf("%s |", renderLevel(i))
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s |", i)
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprint(i)
		},
	}

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zl := zerolog.New(out).With().Timestamp().Logger()

	return &Logger{zl: zl, min: min}, nil
}

// renderLevel maps zerolog's lowercase level names to the log contract's
// uppercase names. EVENT lines carry an explicit "event" level string
// (zerolog has no level slot between info and warn).
func renderLevel(i interface{}) string {
	switch fmt.Sprint(i) {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn":
		return "WARNING"
	case "error":
		return "ERROR"
	case "event":
		return "EVENT"
	default:
		return strings.ToUpper(fmt.Sprint(i))
	}
}

// Module returns a child logger tagged with the given module name.
func (l *Logger) Module(name string) *Logger {
	child := *l
	child.module = name
	child.zl = l.zl.With().Str("module", name).Logger()
	return &child
}

func (l *Logger) enabled(lv Level) bool { return lv >= l.min }

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.enabled(LevelDebug) {
		l.zl.Debug().Msgf(format, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.enabled(LevelInfo) {
		l.zl.Info().Msgf(format, args...)
	}
}

// Eventf logs at the EVENT level (25). zerolog has no slot between info
// and warn, so the entry is emitted with an explicit level string.
func (l *Logger) Eventf(format string, args ...interface{}) {
	if l.enabled(LevelEvent) {
		l.zl.WithLevel(zerolog.NoLevel).Str(zerolog.LevelFieldName, "event").Msgf(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.enabled(LevelWarn) {
		l.zl.Warn().Msgf(format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.enabled(LevelError) {
		l.zl.Error().Msgf(format, args...)
	}
}

// rotatingWriter appends to dir/name and renames the file to
// name.YYYY-MM-DD (the day the content belongs to) when the UTC date
// changes between writes.
type rotatingWriter struct {
	mu   sync.Mutex
	dir  string
	name string
	f    *os.File
	day  string
}

func newRotatingWriter(dir, name string) (*rotatingWriter, error) {
	w := &rotatingWriter{dir: dir, name: name}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) open() error {
	path := filepath.Join(w.dir, w.name)
	day := time.Now().UTC().Format("2006-01-02")

	// A leftover file from a previous day is rotated before reuse.
	if info, err := os.Stat(path); err == nil {
		if d := info.ModTime().UTC().Format("2006-01-02"); d != day {
			_ = os.Rename(path, path+"."+d)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.f = f
	w.day = day
	return nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if day != w.day {
		path := filepath.Join(w.dir, w.name)
		_ = w.f.Close()
		_ = os.Rename(path, path+"."+w.day)
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	return w.f.Write(p)
}
