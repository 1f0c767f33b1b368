package events

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

// VisitRecord is one completed (or half-open) visit in the day's log.
// EndTime is null for a visit persisted mid-flight at shutdown.
type VisitRecord struct {
	ID                string     `json:"id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	DurationSeconds   int        `json:"duration_seconds"`
	DurationStr       string     `json:"duration_str"`
	PeakConfidence    float64    `json:"peak_confidence"`
	ThumbnailPath     string     `json:"thumbnail_path,omitempty"`
	ArrivalClipPath   string     `json:"arrival_clip_path,omitempty"`
	DepartureClipPath string     `json:"departure_clip_path,omitempty"`
}

// Store appends visit records to per-date JSON files under the clips
// root. Files are sharded by the local date of the visit's start in the
// stream's time zone, never by wall clock at append time.
type Store struct {
	root string
	loc  *time.Location
	log  *logging.Logger
}

// NewStore creates a store rooted at the clips directory.
func NewStore(root string, loc *time.Location, log *logging.Logger) *Store {
	return &Store{root: root, loc: loc, log: log.Module("events")}
}

// path returns the day file for a local date.
func (s *Store) path(date string) string {
	return filepath.Join(s.root, date, "events_"+date+".json")
}

// DateOf returns the sharding date for a visit start time.
func (s *Store) DateOf(start time.Time) string {
	return start.In(s.loc).Format("2006-01-02")
}

// Append adds a visit to the file for the visit's start date, creating
// the file and directory if needed. A corrupt existing file is set aside
// as .bak and replaced.
func (s *Store) Append(v VisitRecord) error {
	v.PeakConfidence = round3(v.PeakConfidence)

	date := s.DateOf(v.StartTime)
	path := s.path(date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create clip dir: %w", err)
	}

	records := s.read(path)
	records = append(records, v)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal visit log: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Load reads the records for a local date. Missing or corrupt files are
// treated as empty; Load never fails.
func (s *Store) Load(date string) []VisitRecord {
	return s.read(s.path(date))
}

// ListToday returns the records for the current date in the stream zone.
func (s *Store) ListToday() []VisitRecord {
	return s.Load(time.Now().In(s.loc).Format("2006-01-02"))
}

// read parses a day file, quarantining an unparseable one as .bak.
func (s *Store) read(path string) []VisitRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("read %s: %v", path, err)
		}
		return nil
	}

	var records []VisitRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warnf("corrupt visit log %s: %v, moving aside", path, err)
		if rerr := os.Rename(path, path+".bak"); rerr != nil {
			s.log.Warnf("quarantine %s: %v", path, rerr)
		}
		return nil
	}
	return records
}

// DurationString renders a duration as "2h 5m 3s" with zero units elided
// (a bare "0s" for the empty duration).
func DurationString(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h, m, sec := total/3600, (total%3600)/60, total%60

	out := ""
	if h > 0 {
		out = fmt.Sprintf("%dh ", h)
	}
	if m > 0 || h > 0 {
		out += fmt.Sprintf("%dm ", m)
	}
	return fmt.Sprintf("%s%ds", out, sec)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
