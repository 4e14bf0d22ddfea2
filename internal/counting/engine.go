// Package counting turns per-frame track positions into enter/exit events,
// cumulative counters and dwell durations.
//
// Engine is the explicit per-run state: the region, the occupancy machine,
// the aggregator and the frame counter. It is created once at start-up and
// driven by a single goroutine, one frame at a time.
package counting

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/footfall.report/internal/occupancy"
	"github.com/banshee-data/footfall.report/internal/region"
	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// DefaultFPS is the fallback frame rate when the source reports none.
const DefaultFPS = 30.0

// ErrInvalidFrame is returned for frames with non-positive dimensions.
var ErrInvalidFrame = errors.New("invalid frame")

// Rate sources reported in Stats.
const (
	RateFromSource  = "source"
	RateFromDefault = "default"
)

// Frame is one tracker output: the frame geometry plus every track the
// tracker reported for it.
type Frame struct {
	Width  int
	Height int

	// FPS is the rate reported by the frame source, or zero when unknown.
	FPS float64

	// Time is the capture time. Zero means the engine clock is used.
	Time time.Time

	Tracks []occupancy.Observation
}

// EventKind is Enter or Exit.
type EventKind = occupancy.TransitionKind

const (
	Enter = occupancy.Entered
	Exit  = occupancy.Exited
)

// Event is an enter or exit with its per-kind sequence number.
type Event struct {
	Kind  EventKind
	Seq   int
	Time  time.Time
	Track occupancy.TrackID
	Frame int64

	// Dwell is set for exits only, in seconds.
	Dwell float64
}

// Result describes what processing one frame did.
type Result struct {
	Frame  int64
	Events []Event

	Evicted   int
	Abandoned int
}

// Changed reports whether the frame produced any state change that must
// reach the event log.
func (r Result) Changed() bool { return len(r.Events) > 0 }

// Config holds the start-up parameters of an Engine. They are immutable for
// the run.
type Config struct {
	// Rect is the counting rectangle. Nil selects DefaultRect for the
	// dimensions of each frame.
	Rect *region.Rect

	// TiltDeg is the keystone tilt in degrees.
	TiltDeg float64

	// DefaultFPS is used when the first frame carries no rate. Zero or
	// negative selects DefaultFPS.
	DefaultFPS float64

	// MaxIdleFrames bounds how long an unreported track is remembered.
	// See occupancy.Config.
	MaxIdleFrames int

	// Clock stamps events for frames without a capture time.
	Clock timeutil.Clock
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Enters    int `json:"enters"`
	Exits     int `json:"exits"`
	Inside    int `json:"inside"`
	Tracked   int `json:"tracked"`
	Abandoned int `json:"abandoned"`

	Frames     int64   `json:"frames"`
	FPS        float64 `json:"fps"`
	RateSource string  `json:"rate_source,omitempty"`

	FrameWidth  int            `json:"frame_width"`
	FrameHeight int            `json:"frame_height"`
	Rect        region.Rect    `json:"rect"`
	TiltDeg     float64        `json:"tilt_deg"`
	Polygon     region.Polygon `json:"polygon"`
}

// Engine is the counting state for one run.
type Engine struct {
	cfg   Config
	clock timeutil.Clock

	machine *occupancy.Machine
	agg     Aggregator

	frames     int64
	rate       float64
	rateSource string

	width, height int
	rect          region.Rect
	poly          region.Polygon
}

// NewEngine validates cfg and returns an engine ready for its first frame.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Rect != nil {
		if err := cfg.Rect.Validate(); err != nil {
			return nil, fmt.Errorf("invalid region: %w", err)
		}
	}
	if cfg.DefaultFPS <= 0 {
		cfg.DefaultFPS = DefaultFPS
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		cfg:     cfg,
		clock:   clock,
		machine: occupancy.NewMachine(occupancy.Config{MaxIdleFrames: cfg.MaxIdleFrames}),
	}, nil
}

// Process applies one frame. Frames are numbered from zero in the order
// they are processed; a rejected frame does not consume an index.
func (e *Engine) Process(f Frame) (Result, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return Result{}, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if e.rateSource == "" {
		e.resolveRate(f.FPS)
	}
	if f.Width != e.width || f.Height != e.height {
		e.resize(f.Width, f.Height)
	}

	now := f.Time
	if now.IsZero() {
		now = e.clock.Now()
	}

	idx := e.frames
	res := Result{Frame: idx}
	for _, tr := range e.machine.Observe(idx, now, e.poly, f.Tracks) {
		switch tr.Kind {
		case occupancy.Entered:
			seq := e.agg.Enter(tr.Time)
			res.Events = append(res.Events, Event{Kind: Enter, Seq: seq, Time: tr.Time, Track: tr.Track, Frame: idx})
		case occupancy.Exited:
			seq, dwell := e.agg.Exit(tr.Time, tr.Frame-tr.EntryFrame, e.rate)
			res.Events = append(res.Events, Event{Kind: Exit, Seq: seq, Time: tr.Time, Track: tr.Track, Frame: idx, Dwell: dwell})
		}
	}
	res.Evicted, res.Abandoned = e.machine.Evict(idx)
	e.frames++
	return res, nil
}

func (e *Engine) resolveRate(reported float64) {
	if reported > 0 {
		e.rate, e.rateSource = reported, RateFromSource
		return
	}
	e.rate, e.rateSource = e.cfg.DefaultFPS, RateFromDefault
}

func (e *Engine) resize(w, h int) {
	e.width, e.height = w, h
	if e.cfg.Rect != nil {
		e.rect = *e.cfg.Rect
	} else {
		e.rect = region.DefaultRect(w, h)
	}
	e.poly = region.Keystone(e.rect, e.cfg.TiltDeg, w)
}

// Rate returns the effective frame rate, or zero before the first frame.
func (e *Engine) Rate() float64 { return e.rate }

// Polygon returns the current counting polygon, or nil before the first frame.
func (e *Engine) Polygon() region.Polygon {
	return append(region.Polygon(nil), e.poly...)
}

// Ledger returns a copy of the accumulated event columns.
func (e *Engine) Ledger() Ledger { return e.agg.Ledger() }

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Enters:      e.agg.Enters(),
		Exits:       e.agg.Exits(),
		Inside:      e.machine.InsideCount(),
		Tracked:     e.machine.Len(),
		Abandoned:   e.machine.Abandoned(),
		Frames:      e.frames,
		FPS:         e.rate,
		RateSource:  e.rateSource,
		FrameWidth:  e.width,
		FrameHeight: e.height,
		Rect:        e.rect,
		TiltDeg:     e.cfg.TiltDeg,
		Polygon:     e.Polygon(),
	}
}
