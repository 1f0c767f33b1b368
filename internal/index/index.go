package index

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/events"
)

// Index is a queryable SQLite mirror of the per-date visit JSON logs.
// The JSON files remain the durable record; the index exists so the
// admin API can filter by date and stream without scanning files.
type Index struct {
	db *sql.DB
}

// Open creates the index database with WAL enabled.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS visits (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			local_date TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			duration_seconds INTEGER,
			peak_confidence REAL,
			thumbnail_path TEXT,
			arrival_clip_path TEXT,
			departure_clip_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_stream_date ON visits(stream_id, local_date)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_start ON visits(start_time DESC)`,
	}
	for _, m := range migrations {
		if _, err := i.db.Exec(m); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (i *Index) Close() error {
	return i.db.Close()
}

// SaveVisit upserts one visit record under its sharding date.
func (i *Index) SaveVisit(streamID, localDate string, v events.VisitRecord) error {
	var end interface{}
	if v.EndTime != nil {
		end = v.EndTime.UTC()
	}
	_, err := i.db.Exec(`
		INSERT INTO visits
			(id, stream_id, local_date, start_time, end_time, duration_seconds,
			 peak_confidence, thumbnail_path, arrival_clip_path, departure_clip_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time = excluded.end_time,
			duration_seconds = excluded.duration_seconds,
			peak_confidence = excluded.peak_confidence,
			thumbnail_path = excluded.thumbnail_path,
			arrival_clip_path = excluded.arrival_clip_path,
			departure_clip_path = excluded.departure_clip_path`,
		v.ID, streamID, localDate, v.StartTime.UTC(), end, v.DurationSeconds,
		v.PeakConfidence, v.ThumbnailPath, v.ArrivalClipPath, v.DepartureClipPath)
	if err != nil {
		return fmt.Errorf("save visit %s: %w", v.ID, err)
	}
	return nil
}

// ListVisits returns a stream's visits for one local date, oldest first.
func (i *Index) ListVisits(streamID, localDate string) ([]events.VisitRecord, error) {
	rows, err := i.db.Query(`
		SELECT id, start_time, end_time, duration_seconds, peak_confidence,
		       thumbnail_path, arrival_clip_path, departure_clip_path
		FROM visits
		WHERE stream_id = ? AND local_date = ?
		ORDER BY start_time ASC`, streamID, localDate)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var out []events.VisitRecord
	for rows.Next() {
		var v events.VisitRecord
		var end sql.NullTime
		if err := rows.Scan(&v.ID, &v.StartTime, &end, &v.DurationSeconds,
			&v.PeakConfidence, &v.ThumbnailPath, &v.ArrivalClipPath,
			&v.DepartureClipPath); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		if end.Valid {
			t := end.Time
			v.EndTime = &t
		}
		v.DurationStr = events.DurationString(time.Duration(v.DurationSeconds) * time.Second)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountVisits returns the total visits recorded for a stream.
func (i *Index) CountVisits(streamID string) (int, error) {
	var n int
	err := i.db.QueryRow(`SELECT COUNT(*) FROM visits WHERE stream_id = ?`, streamID).Scan(&n)
	return n, err
}
