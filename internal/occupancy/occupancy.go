// Package occupancy tracks, per externally assigned track id, whether that
// track is inside the counting region and reports enter/exit transitions.
//
// The Machine is the only owner of the track map. It is not safe for
// concurrent use; frames must be applied in order from a single goroutine.
package occupancy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/region"
)

// TrackID is an opaque identity assigned by the upstream tracker. It is
// stable for as long as the tracker keeps reporting the same object.
type TrackID string

// UnmarshalJSON accepts both JSON strings and JSON numbers, since trackers
// differ in how they serialise identities.
func (id *TrackID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = TrackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("track id must be a string or number: %s", b)
	}
	*id = TrackID(n.String())
	return nil
}

// TrackIDFromInt formats a numeric tracker id.
func TrackIDFromInt(n int64) TrackID {
	return TrackID(strconv.FormatInt(n, 10))
}

// Observation is one tracked object's estimated centroid in one frame.
type Observation struct {
	ID       TrackID
	Position r2.Vec
}

// Track is the per-id occupancy record.
type Track struct {
	ID     TrackID
	Inside bool

	// Entry markers, set on entering and cleared on exiting.
	HasEntry   bool
	EntryFrame int64
	EntryTime  time.Time

	// LastSeenFrame is the most recent frame in which the tracker reported
	// this id. Used by eviction.
	LastSeenFrame int64
}

// TransitionKind distinguishes enter from exit.
type TransitionKind int

const (
	Entered TransitionKind = iota + 1
	Exited
)

func (k TransitionKind) String() string {
	switch k {
	case Entered:
		return "enter"
	case Exited:
		return "exit"
	default:
		return "unknown"
	}
}

// Transition is a detected OUTSIDE→INSIDE or INSIDE→OUTSIDE change.
type Transition struct {
	Kind  TransitionKind
	Track TrackID
	Frame int64
	Time  time.Time

	// For exits, the frame and time recorded when the track entered.
	EntryFrame int64
	EntryTime  time.Time
}

// Config controls the track map lifecycle.
type Config struct {
	// MaxIdleFrames is the number of consecutive frames a track may go
	// unreported before its record is dropped. Zero or negative disables
	// eviction and the map grows for the lifetime of the run.
	MaxIdleFrames int
}

// Machine applies observations frame by frame.
type Machine struct {
	cfg    Config
	tracks map[TrackID]*Track

	abandoned int
}

// NewMachine returns an empty Machine.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:    cfg,
		tracks: make(map[TrackID]*Track),
	}
}

// Observe evaluates every observation against poly and returns the
// transitions in observation order. An id seen for the first time is
// implicitly OUTSIDE, so a first sighting inside the region is an enter.
// An id observed twice in the same frame is applied twice, in order.
func (m *Machine) Observe(frame int64, now time.Time, poly region.Polygon, obs []Observation) []Transition {
	var out []Transition
	for _, o := range obs {
		inside := poly.Contains(o.Position)

		tr, seen := m.tracks[o.ID]
		if !seen {
			tr = &Track{ID: o.ID}
			m.tracks[o.ID] = tr
		}
		tr.LastSeenFrame = frame

		switch {
		case inside && !tr.Inside:
			tr.HasEntry = true
			tr.EntryFrame = frame
			tr.EntryTime = now
			out = append(out, Transition{Kind: Entered, Track: o.ID, Frame: frame, Time: now})
		case !inside && tr.Inside && tr.HasEntry:
			out = append(out, Transition{
				Kind:       Exited,
				Track:      o.ID,
				Frame:      frame,
				Time:       now,
				EntryFrame: tr.EntryFrame,
				EntryTime:  tr.EntryTime,
			})
			tr.HasEntry = false
			tr.EntryFrame = 0
			tr.EntryTime = time.Time{}
		}
		tr.Inside = inside
	}
	return out
}

// Evict removes tracks that have not been reported for more than
// MaxIdleFrames frames as of frame. It returns the number of evicted tracks
// and how many of those were inside the region when they vanished. No exit
// is produced for those: the crossing was never observed.
func (m *Machine) Evict(frame int64) (evicted, abandoned int) {
	if m.cfg.MaxIdleFrames <= 0 {
		return 0, 0
	}
	limit := int64(m.cfg.MaxIdleFrames)

	var stale []TrackID
	for id, tr := range m.tracks {
		if frame-tr.LastSeenFrame > limit {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if m.tracks[id].Inside {
			abandoned++
			monitoring.Logf("occupancy: track %s evicted while inside after %d idle frames", id, frame-m.tracks[id].LastSeenFrame)
		}
		delete(m.tracks, id)
	}
	m.abandoned += abandoned
	return len(stale), abandoned
}

// Len returns the number of tracks currently held.
func (m *Machine) Len() int {
	return len(m.tracks)
}

// InsideCount returns how many held tracks are currently inside.
func (m *Machine) InsideCount() int {
	n := 0
	for _, tr := range m.tracks {
		if tr.Inside {
			n++
		}
	}
	return n
}

// Abandoned returns the total number of tracks evicted while inside.
func (m *Machine) Abandoned() int {
	return m.abandoned
}

// Track returns a copy of the record for id.
func (m *Machine) Track(id TrackID) (Track, bool) {
	tr, ok := m.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *tr, true
}

// Tracks returns copies of all records ordered by id.
func (m *Machine) Tracks() []Track {
	out := make([]Track, 0, len(m.tracks))
	for _, tr := range m.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
