package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/eventlog"
	"github.com/banshee-data/footfall.report/internal/fsutil"
	"github.com/banshee-data/footfall.report/internal/occupancy"
	"github.com/banshee-data/footfall.report/internal/region"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/trackfeed"
)

var (
	t0     = time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	quiet  = log.New(io.Discard, "", 0)
	inside = frameAt(10, 150)
	out    = frameAt(10, 50)
)

func frameAt(x, y float64) counting.Frame {
	return counting.Frame{Width: 500, Height: 375, FPS: 30, Tracks: []occupancy.Observation{{ID: "A", Position: r2.Vec{X: x, Y: y}}}}
}

type step struct {
	frame counting.Frame
	err   error
	// cancel cancels the run context before this step is returned.
	cancel bool
}

type fakeSource struct {
	steps  []step
	cancel context.CancelFunc
	clock  *timeutil.MockClock
	tick   time.Duration
	closed bool
}

func (s *fakeSource) Next(ctx context.Context) (counting.Frame, error) {
	if s.clock != nil {
		s.clock.Advance(s.tick)
	}
	if len(s.steps) == 0 {
		return counting.Frame{}, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.cancel {
		s.cancel()
		return counting.Frame{}, ctx.Err()
	}
	return st.frame, st.err
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeLog struct {
	snapshots []counting.Ledger
	err       error
}

func (l *fakeLog) Flush(ledger counting.Ledger) error {
	if l.err != nil {
		return l.err
	}
	l.snapshots = append(l.snapshots, ledger)
	return nil
}

type fakeSink struct {
	batches [][]counting.Event
	err     error
}

func (s *fakeSink) RecordEvents(_ context.Context, events []counting.Event) error {
	s.batches = append(s.batches, events)
	return s.err
}

func newEngine(t *testing.T) *counting.Engine {
	t.Helper()
	e, err := counting.NewEngine(counting.Config{
		Rect:  &region.Rect{X: 0, Y: 100, W: 500, H: 100},
		Clock: timeutil.NewMockClock(t0),
	})
	require.NoError(t, err)
	return e
}

func TestRun_FlushesAfterEveryChange(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{
		{frame: out},
		{frame: inside},
		{frame: inside},
		{err: trackfeed.ErrSkipFrame},
		{frame: out},
		{frame: counting.Frame{Width: 500, Height: 375}},
	}}
	flog := &fakeLog{}
	sink := &fakeSink{}
	status := NewStatus()
	r, err := NewRunner(Config{Source: src, Engine: newEngine(t), Log: flog, Sink: sink, Status: status, Logger: quiet})
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	// One flush for the enter, one for the exit, one final.
	require.Len(t, flog.snapshots, 3)
	assert.Len(t, flog.snapshots[0].Enters, 1)
	assert.Empty(t, flog.snapshots[0].Exits)
	assert.Len(t, flog.snapshots[1].Exits, 1)
	assert.Equal(t, flog.snapshots[1], flog.snapshots[2])

	assert.Len(t, sink.batches, 2)
	assert.Equal(t, Summary{Frames: 5, Skipped: 1, Enters: 1, Exits: 1, Flushes: 3, Elapsed: sum.Elapsed}, sum)

	snap := status.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, int64(5), snap.Stats.Frames)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, 3, snap.Flushes)
	assert.False(t, src.closed, "the runner does not own the source")
}

func TestRun_EmptyInputStillFlushesOnce(t *testing.T) {
	t.Parallel()

	flog := &fakeLog{}
	r, err := NewRunner(Config{Source: &fakeSource{}, Engine: newEngine(t), Log: flog, Logger: quiet})
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, flog.snapshots, 1)
	assert.Zero(t, sum.Frames)
	assert.Zero(t, sum.FPS())
}

func TestRun_CancelIsGraceful(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{cancel: cancel, steps: []step{{frame: inside}, {cancel: true}, {frame: out}}}
	flog := &fakeLog{}
	r, err := NewRunner(Config{Source: src, Engine: newEngine(t), Log: flog, Logger: quiet})
	require.NoError(t, err)

	sum, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Frames)
	require.Len(t, flog.snapshots, 2)
	assert.Len(t, flog.snapshots[1].Enters, 1)
	assert.Len(t, src.steps, 1, "no frames consumed after quit")
}

func TestRun_SourceFailureFlushesThenErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("camera unplugged")
	flog := &fakeLog{}
	src := &fakeSource{steps: []step{{frame: inside}, {err: boom}, {frame: out}}}
	r, err := NewRunner(Config{Source: src, Engine: newEngine(t), Log: flog, Logger: quiet})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, flog.snapshots, 2, "change flush plus final flush")
}

func TestRun_FinalFlushErrorReported(t *testing.T) {
	t.Parallel()

	diskFull := errors.New("disk full")
	boom := errors.New("feed closed")
	flog := &fakeLog{err: diskFull}
	src := &fakeSource{steps: []step{{frame: inside}, {err: boom}}}
	r, err := NewRunner(Config{Source: src, Engine: newEngine(t), Log: flog, Logger: quiet})
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	assert.ErrorIs(t, err, diskFull)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, sum.Flushes)
}

func TestRun_InvalidFramesSkipped(t *testing.T) {
	t.Parallel()

	flog := &fakeLog{}
	src := &fakeSource{steps: []step{{frame: counting.Frame{}}, {frame: inside}}}
	r, err := NewRunner(Config{Source: src, Engine: newEngine(t), Log: flog, Logger: quiet})
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Skipped)
	assert.Equal(t, int64(1), sum.Frames)
	assert.Equal(t, 1, sum.Enters)
}

func TestRun_SinkErrorsAreNotFatal(t *testing.T) {
	t.Parallel()

	flog := &fakeLog{}
	sink := &fakeSink{err: errors.New("database is locked")}
	src := &fakeSource{steps: []step{{frame: inside}, {frame: out}}}
	r, err := NewRunner(Config{Source: src, Engine: newEngine(t), Log: flog, Sink: sink, Logger: quiet})
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Exits)
	assert.Len(t, sink.batches, 2)
	assert.Len(t, flog.snapshots, 3)
}

func TestRun_PeriodicFlush(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(t0)
	// 1 s per frame, flush every 3 s. Each frame toggles A so every frame
	// changes state.
	var steps []step
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			steps = append(steps, step{frame: inside})
		} else {
			steps = append(steps, step{frame: out})
		}
	}
	src := &fakeSource{steps: steps, clock: clock, tick: time.Second}
	flog := &fakeLog{}
	r, err := NewRunner(Config{
		Source: src, Engine: newEngine(t), Log: flog,
		FlushInterval: 3 * time.Second, Clock: clock, Logger: quiet,
	})
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Enters)
	assert.Equal(t, 5, sum.Exits)

	// Periodic flushes after frames 3, 6 and 9 (clock at 3 s, 6 s, 9 s), plus
	// the final flush with the complete ledger.
	require.Len(t, flog.snapshots, 4)
	last := flog.snapshots[len(flog.snapshots)-1]
	assert.Len(t, last.Enters, 5)
	assert.Len(t, last.Exits, 5)
	for i := 1; i < len(flog.snapshots); i++ {
		assert.GreaterOrEqual(t, flog.snapshots[i].Rows(), flog.snapshots[i-1].Rows())
	}
}

func TestRun_WithEventLogWriter(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	w := eventlog.NewWriter(mfs, "/out/footfall.csv", time.UTC)
	src := &fakeSource{steps: []step{{frame: inside}, {frame: out}, {frame: inside}}}
	r, err := NewRunner(Config{Source: src, Engine: newEngine(t), Log: w, Logger: quiet})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	f, err := mfs.Open("/out/footfall.csv")
	require.NoError(t, err)
	defer f.Close()
	rows, err := eventlog.Read(f)
	require.NoError(t, err)
	assert.Equal(t, []eventlog.Row{
		{MoveIn: "1", InTime: "2024-05-04 12:00", MoveOut: "1", OutTime: "2024-05-04 12:00", StayDuration: "0.03"},
		{MoveIn: "2", InTime: "2024-05-04 12:00"},
	}, rows)
}

func TestNewRunner_Validation(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	_, err := NewRunner(Config{Engine: e, Log: &fakeLog{}})
	assert.Error(t, err)
	_, err = NewRunner(Config{Source: &fakeSource{}, Log: &fakeLog{}})
	assert.Error(t, err)
	_, err = NewRunner(Config{Source: &fakeSource{}, Engine: e})
	assert.Error(t, err)
	_, err = NewRunner(Config{Source: &fakeSource{}, Engine: e, Log: &fakeLog{}, FlushInterval: -time.Second})
	assert.Error(t, err)
}

func TestSummary_FPS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 25.0, Summary{Frames: 250, Elapsed: 10 * time.Second}.FPS())
}
