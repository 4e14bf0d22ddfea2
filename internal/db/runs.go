package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/region"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunParams describes the start-up configuration of a run.
type RunParams struct {
	// Source names the frame source, e.g. a recording path or listen address.
	Source string

	// Rect is nil when the default rectangle is derived from the frame size.
	Rect       *region.Rect
	TiltDeg    float64
	Confidence float64

	StartedAt time.Time
}

// Run is an open run that events are recorded against.
type Run struct {
	db *DB
	ID string
}

// StartRun inserts a run row and returns a handle for recording events.
func (db *DB) StartRun(ctx context.Context, p RunParams) (*Run, error) {
	id := uuid.NewString()
	if p.StartedAt.IsZero() {
		p.StartedAt = time.Now()
	}

	var x, y, w, h sql.NullInt64
	if p.Rect != nil {
		x = sql.NullInt64{Int64: int64(p.Rect.X), Valid: true}
		y = sql.NullInt64{Int64: int64(p.Rect.Y), Valid: true}
		w = sql.NullInt64{Int64: int64(p.Rect.W), Valid: true}
		h = sql.NullInt64{Int64: int64(p.Rect.H), Valid: true}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (
			run_id, source, started_unix_nanos,
			rect_x, rect_y, rect_w, rect_h, tilt_deg, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Source, p.StartedAt.UnixNano(),
		x, y, w, h, p.TiltDeg, p.Confidence,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return &Run{db: db, ID: id}, nil
}

// RecordEvents stores the events of one frame in a single transaction.
func (r *Run) RecordEvents(ctx context.Context, events []counting.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (
			run_id, kind, seq, track_id, frame_index, event_unix_nanos, dwell_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var dwell sql.NullFloat64
		if ev.Kind == counting.Exit {
			dwell = sql.NullFloat64{Float64: ev.Dwell, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, ev.Kind.String(), ev.Seq, string(ev.Track), ev.Frame, ev.Time.UnixNano(), dwell,
		); err != nil {
			return fmt.Errorf("insert %s #%d: %w", ev.Kind, ev.Seq, err)
		}
	}
	return tx.Commit()
}

// Finish stores the final counters of the run.
func (r *Run) Finish(ctx context.Context, st counting.Stats, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET
			finished_unix_nanos = ?, fps = ?, rate_source = ?,
			frames = ?, enters = ?, exits = ?, abandoned = ?
		WHERE run_id = ?`,
		finishedAt.UnixNano(), st.FPS, st.RateSource,
		st.Frames, st.Enters, st.Exits, st.Abandoned,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish %s: %w", r.ID, ErrRunNotFound)
	}
	return nil
}

// EventRecord is a stored event.
type EventRecord struct {
	ID    int64     `json:"id"`
	RunID string    `json:"run_id"`
	Kind  string    `json:"kind"`
	Seq   int       `json:"seq"`
	Track string    `json:"track_id"`
	Frame int64     `json:"frame"`
	Time  time.Time `json:"time"`
	Dwell *float64  `json:"dwell_seconds,omitempty"`
}

// RecentEvents returns up to limit events, newest first. An empty runID
// selects events from every run.
func (db *DB) RecentEvents(ctx context.Context, runID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, run_id, kind, seq, track_id, frame_index, event_unix_nanos, dwell_seconds
		FROM events
		WHERE (? = '' OR run_id = ?)
		ORDER BY event_id DESC
		LIMIT ?`,
		runID, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			e     EventRecord
			nanos int64
			dwell sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Seq, &e.Track, &e.Frame, &nanos, &dwell); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time = time.Unix(0, nanos).UTC()
		if dwell.Valid {
			d := dwell.Float64
			e.Dwell = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunRecord is a stored run.
type RunRecord struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Rect       *region.Rect `json:"rect,omitempty"`
	TiltDeg    float64      `json:"tilt_deg"`
	Confidence float64      `json:"confidence"`
	FPS        float64      `json:"fps"`
	RateSource string       `json:"rate_source,omitempty"`
	Frames     int64        `json:"frames"`
	Enters     int          `json:"enters"`
	Exits      int          `json:"exits"`
	Abandoned  int          `json:"abandoned"`
}

// GetRun loads one run.
func (db *DB) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := db.QueryRowContext(ctx, runSelect+` WHERE run_id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return rec, err
}

// Runs lists up to limit runs, most recently started first.
func (db *DB) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, runSelect+` ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const runSelect = `SELECT run_id, source, started_unix_nanos, finished_unix_nanos,
	rect_x, rect_y, rect_w, rect_h, tilt_deg, confidence,
	fps, rate_source, frames, enters, exits, abandoned
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var (
		rec        RunRecord
		started    int64
		finished   sql.NullInt64
		x, y, w, h sql.NullInt64
		fps        sql.NullFloat64
		rateSource sql.NullString
	)
	err := s.Scan(&rec.ID, &rec.Source, &started, &finished,
		&x, &y, &w, &h, &rec.TiltDeg, &rec.Confidence,
		&fps, &rateSource, &rec.Frames, &rec.Enters, &rec.Exits, &rec.Abandoned)
	if err != nil {
		return RunRecord{}, err
	}
	rec.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		rec.FinishedAt = &t
	}
	if x.Valid && y.Valid && w.Valid && h.Valid {
		rec.Rect = &region.Rect{X: int(x.Int64), Y: int(y.Int64), W: int(w.Int64), H: int(h.Int64)}
	}
	rec.FPS = fps.Float64
	rec.RateSource = rateSource.String
	return rec, nil
}
