package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/region"
)

var t0 = time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "footfall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB_MigratesAndAppliesPragmas(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "footfall.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	_, err = db.StartRun(context.Background(), RunParams{Source: "a.jsonl", Confidence: 0.4, StartedAt: t0})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(path)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.Runs(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='events'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rect := region.Rect{X: 0, Y: 100, W: 500, H: 100}
	run, err := db.StartRun(ctx, RunParams{Source: "udp://:7777", Rect: &rect, TiltDeg: 12.5, Confidence: 0.4, StartedAt: t0})
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)

	require.NoError(t, run.RecordEvents(ctx, nil))
	require.NoError(t, run.RecordEvents(ctx, []counting.Event{
		{Kind: counting.Enter, Seq: 1, Time: t0, Track: "7", Frame: 0},
		{Kind: counting.Enter, Seq: 2, Time: t0, Track: "9", Frame: 0},
	}))
	require.NoError(t, run.RecordEvents(ctx, []counting.Event{
		{Kind: counting.Exit, Seq: 1, Time: t0.Add(time.Second), Track: "7", Frame: 30, Dwell: 1.0},
	}))

	events, err := db.RecentEvents(ctx, run.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "exit", events[0].Kind)
	require.NotNil(t, events[0].Dwell)
	assert.Equal(t, 1.0, *events[0].Dwell)
	assert.Equal(t, t0.Add(time.Second), events[0].Time)
	assert.Equal(t, "enter", events[2].Kind)
	assert.Nil(t, events[2].Dwell)
	assert.Equal(t, "7", events[2].Track)

	limited, err := db.RecentEvents(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, run.Finish(ctx, counting.Stats{Frames: 31, Enters: 2, Exits: 1, Abandoned: 1, FPS: 30, RateSource: counting.RateFromSource}, t0.Add(time.Minute)))

	rec, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "udp://:7777", rec.Source)
	assert.Equal(t, t0, rec.StartedAt)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, t0.Add(time.Minute), *rec.FinishedAt)
	assert.Equal(t, &rect, rec.Rect)
	assert.Equal(t, 12.5, rec.TiltDeg)
	assert.Equal(t, int64(31), rec.Frames)
	assert.Equal(t, 2, rec.Enters)
	assert.Equal(t, 1, rec.Exits)
	assert.Equal(t, 1, rec.Abandoned)
	assert.Equal(t, counting.RateFromSource, rec.RateSource)
}

func TestRecordEvents_DuplicateSeqRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	run, err := db.StartRun(ctx, RunParams{Source: "-", Confidence: 0.4})
	require.NoError(t, err)

	err = run.RecordEvents(ctx, []counting.Event{
		{Kind: counting.Enter, Seq: 1, Time: t0, Track: "1"},
		{Kind: counting.Enter, Seq: 1, Time: t0, Track: "2"},
	})
	assert.Error(t, err)

	events, err := db.RecentEvents(ctx, run.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "the whole frame is rolled back")
}

func TestGetRun_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	run := &Run{db: db, ID: "missing"}
	assert.ErrorIs(t, run.Finish(context.Background(), counting.Stats{}, t0), ErrRunNotFound)
}

func TestRuns_DefaultRectIsNull(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.StartRun(ctx, RunParams{Source: "first", Confidence: 0.4, StartedAt: t0})
	require.NoError(t, err)
	_, err = db.StartRun(ctx, RunParams{Source: "second", Confidence: 0.5, StartedAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	runs, err := db.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "second", runs[0].Source)
	assert.Nil(t, runs[0].Rect)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	_, err := db.StartRun(context.Background(), RunParams{Source: "-", Confidence: 0.4})
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tailsql")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/debug/backup", nil)
	require.NoError(t, err)
	// Setting Accept-Encoding stops the transport from decompressing.
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	gz, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
}
