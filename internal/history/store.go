package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/stridelink/internal/workout"

	_ "modernc.org/sqlite"
)

const dayLayout = "2006-01-02"

// Store keeps finished session summaries and per-day distance totals in
// SQLite.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// Open creates dbPath's directory if needed and prepares the schema. Days
// are bucketed in loc; nil means time.Local.
func Open(ctx context.Context, dbPath string, loc *time.Location) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if loc == nil {
		loc = time.Local
	}
	s := &Store{db: db, loc: loc}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  activity TEXT NOT NULL,
  location TEXT NOT NULL,
  day TEXT NOT NULL,
  started_at TEXT NOT NULL,
  ended_at TEXT NOT NULL,
  distance_meters REAL NOT NULL,
  active_energy_kcal REAL NOT NULL,
  elapsed_seconds REAL NOT NULL,
  avg_heart_rate_bpm REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_distance (
  day TEXT PRIMARY KEY,
  meters REAL NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create history tables: %w", err)
	}
	return nil
}

// SaveSummary upserts a finished session and credits its distance to the day
// it ended. Saving the same session again replaces its earlier credit.
func (s *Store) SaveSummary(ctx context.Context, sum workout.Summary) error {
	if sum.SessionID == "" {
		return errors.New("history: summary missing session id")
	}
	day := s.dayKey(sum.EndedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		prevDay      string
		prevDistance float64
	)
	err = tx.QueryRowContext(ctx, `SELECT day, distance_meters FROM sessions WHERE id = ?`, sum.SessionID).Scan(&prevDay, &prevDistance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("lookup session: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE daily_distance SET meters = meters - ? WHERE day = ?`, prevDistance, prevDay); err != nil {
			return fmt.Errorf("revert daily distance: %w", err)
		}
	}

	const upsert = `
INSERT INTO sessions (id, activity, location, day, started_at, ended_at, distance_meters, active_energy_kcal, elapsed_seconds, avg_heart_rate_bpm)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  activity=excluded.activity,
  location=excluded.location,
  day=excluded.day,
  started_at=excluded.started_at,
  ended_at=excluded.ended_at,
  distance_meters=excluded.distance_meters,
  active_energy_kcal=excluded.active_energy_kcal,
  elapsed_seconds=excluded.elapsed_seconds,
  avg_heart_rate_bpm=excluded.avg_heart_rate_bpm;
`
	_, err = tx.ExecContext(ctx, upsert,
		sum.SessionID,
		string(sum.Activity),
		string(sum.Location),
		day,
		sum.StartedAt.UTC().Format(time.RFC3339Nano),
		sum.EndedAt.UTC().Format(time.RFC3339Nano),
		sum.Totals.DistanceMeters,
		sum.Totals.ActiveEnergyKcal,
		sum.Totals.Elapsed.Seconds(),
		sum.Totals.AvgHeartRateBPM,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	const credit = `
INSERT INTO daily_distance (day, meters) VALUES (?, ?)
ON CONFLICT(day) DO UPDATE SET meters = meters + excluded.meters;
`
	if _, err := tx.ExecContext(ctx, credit, day, sum.Totals.DistanceMeters); err != nil {
		return fmt.Errorf("credit daily distance: %w", err)
	}
	return tx.Commit()
}

// DailyDistances returns one total per day for the trailing window ending on
// end's day, oldest first. The series starts no earlier than the first day
// with recorded history, so a young history yields fewer than days values.
func (s *Store) DailyDistances(ctx context.Context, end time.Time, days int) ([]float64, error) {
	if days <= 0 {
		return nil, nil
	}
	endDay := s.dayStart(end)
	from := endDay.AddDate(0, 0, -(days - 1))

	var first sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(day) FROM daily_distance`).Scan(&first); err != nil {
		return nil, fmt.Errorf("first history day: %w", err)
	}
	if !first.Valid {
		return nil, nil
	}
	firstDay, err := time.ParseInLocation(dayLayout, first.String, s.loc)
	if err != nil {
		return nil, fmt.Errorf("parse history day %q: %w", first.String, err)
	}
	if firstDay.After(endDay) {
		return nil, nil
	}
	if firstDay.After(from) {
		from = firstDay
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT day, meters FROM daily_distance WHERE day >= ? AND day <= ? ORDER BY day`,
		from.Format(dayLayout), endDay.Format(dayLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily distance: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var (
			day    string
			meters float64
		)
		if err := rows.Scan(&day, &meters); err != nil {
			return nil, fmt.Errorf("scan daily distance: %w", err)
		}
		totals[day] = meters
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []float64
	for d := from; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		out = append(out, totals[d.Format(dayLayout)])
	}
	return out, nil
}

// RecentSessions lists up to limit summaries, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]workout.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, activity, location, started_at, ended_at, distance_meters, active_energy_kcal, elapsed_seconds, avg_heart_rate_bpm
FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []workout.Summary
	for rows.Next() {
		var (
			sum            workout.Summary
			activity, loc  string
			started, ended string
			elapsedSeconds float64
		)
		if err := rows.Scan(&sum.SessionID, &activity, &loc, &started, &ended,
			&sum.Totals.DistanceMeters, &sum.Totals.ActiveEnergyKcal, &elapsedSeconds, &sum.Totals.AvgHeartRateBPM); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Activity = workout.ActivityType(activity)
		sum.Location = workout.LocationContext(loc)
		sum.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		sum.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		sum.Totals.Elapsed = time.Duration(elapsedSeconds * float64(time.Second))
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) dayStart(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Store) dayKey(t time.Time) string {
	return t.In(s.loc).Format(dayLayout)
}
