// Package pipeline drives the counting engine from a frame source, one frame
// at a time on a single goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/trackfeed"
)

// Flusher persists a complete snapshot of the ledger.
type Flusher interface {
	Flush(l counting.Ledger) error
}

// EventSink receives the events of every frame that produced any.
type EventSink interface {
	RecordEvents(ctx context.Context, events []counting.Event) error
}

// Config wires a Runner.
type Config struct {
	Source trackfeed.Source
	Engine *counting.Engine
	Log    Flusher

	// Sink is an optional secondary event store.
	Sink EventSink

	// Status, when set, receives a snapshot after every frame.
	Status *Status

	// FlushInterval selects the flush policy. Zero flushes after every
	// frame with a state change. A positive interval flushes at most once
	// per interval while changes are pending.
	FlushInterval time.Duration

	Clock  timeutil.Clock
	Logger *log.Logger
}

// Summary describes a finished run.
type Summary struct {
	Frames  int64
	Skipped int64
	Enters  int
	Exits   int
	Flushes int
	Elapsed time.Duration
}

// FPS is the average processing rate over the run.
func (s Summary) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

// Runner owns the frame loop.
type Runner struct {
	cfg    Config
	clock  timeutil.Clock
	logger *log.Logger

	skipped    int64
	flushes    int
	pending    bool
	lastFlush  time.Time
	sinkErrors int
}

// NewRunner validates cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: no frame source")
	}
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: no engine")
	}
	if cfg.Log == nil {
		return nil, errors.New("pipeline: no event log")
	}
	if cfg.FlushInterval < 0 {
		return nil, fmt.Errorf("pipeline: negative flush interval %v", cfg.FlushInterval)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{cfg: cfg, clock: clock, logger: monitoring.OrDefault(cfg.Logger)}, nil
}

// Run processes frames until the source is exhausted, ctx is cancelled or
// the source fails. Exactly one final flush happens on every exit path. End
// of input and cancellation are not errors.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.clock.Now()
	r.lastFlush = start
	if r.cfg.Status != nil {
		r.cfg.Status.start(start)
	}

	runErr := r.loop(ctx)

	var flushErr error
	if err := r.flush(); err != nil {
		flushErr = fmt.Errorf("final flush: %w", err)
		r.logger.Printf("pipeline: %v", flushErr)
	}

	st := r.cfg.Engine.Stats()
	sum := Summary{
		Frames:  st.Frames,
		Skipped: r.skipped,
		Enters:  st.Enters,
		Exits:   st.Exits,
		Flushes: r.flushes,
		Elapsed: r.clock.Since(start),
	}
	if r.cfg.Status != nil {
		r.cfg.Status.publish(st, r.skipped, r.flushes, r.clock.Now())
		r.cfg.Status.stop(r.clock.Now())
	}
	r.logger.Printf("pipeline: processed %d frames (%d skipped) in %v, ~%.1f fps; in=%d out=%d abandoned=%d",
		sum.Frames, sum.Skipped, sum.Elapsed.Round(time.Millisecond), sum.FPS(), st.Enters, st.Exits, st.Abandoned)
	if r.sinkErrors > 0 {
		r.logger.Printf("pipeline: %d event batches failed to reach the event store", r.sinkErrors)
	}
	return sum, multierr.Combine(runErr, flushErr)
}

func (r *Runner) loop(ctx context.Context) error {
	for {
		f, err := r.cfg.Source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			r.logger.Printf("pipeline: end of input")
			return nil
		case errors.Is(err, trackfeed.ErrSkipFrame):
			r.skipped++
			continue
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			r.logger.Printf("pipeline: stopping: %v", ctx.Err())
			return nil
		default:
			return fmt.Errorf("read frame: %w", err)
		}

		res, err := r.cfg.Engine.Process(f)
		if err != nil {
			r.skipped++
			r.logger.Printf("pipeline: skipping frame: %v", err)
			continue
		}
		if res.Changed() {
			r.pending = true
			r.logEvents(res.Events)
			if r.cfg.Sink != nil {
				if err := r.cfg.Sink.RecordEvents(ctx, res.Events); err != nil {
					r.sinkErrors++
					r.logger.Printf("pipeline: record events for frame %d: %v", res.Frame, err)
				}
			}
		}
		if r.pending && r.flushDue() {
			if err := r.flush(); err != nil {
				r.logger.Printf("pipeline: flush after frame %d: %v", res.Frame, err)
			}
		}
		if r.cfg.Status != nil {
			r.cfg.Status.publish(r.cfg.Engine.Stats(), r.skipped, r.flushes, r.clock.Now())
		}
	}
}

func (r *Runner) flushDue() bool {
	return r.cfg.FlushInterval == 0 || r.clock.Since(r.lastFlush) >= r.cfg.FlushInterval
}

// flush writes the ledger. A failed flush leaves changes pending so the next
// attempt rewrites them.
func (r *Runner) flush() error {
	if err := r.cfg.Log.Flush(r.cfg.Engine.Ledger()); err != nil {
		return err
	}
	r.flushes++
	r.pending = false
	r.lastFlush = r.clock.Now()
	return nil
}

func (r *Runner) logEvents(events []counting.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case counting.Enter:
			r.logger.Printf("pipeline: move in #%d track=%s frame=%d", ev.Seq, ev.Track, ev.Frame)
		case counting.Exit:
			r.logger.Printf("pipeline: move out #%d track=%s frame=%d stay=%.2fs", ev.Seq, ev.Track, ev.Frame, ev.Dwell)
		}
	}
}
