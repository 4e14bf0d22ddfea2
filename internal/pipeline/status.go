package pipeline

import (
	"sync"
	"time"

	"github.com/banshee-data/footfall.report/internal/counting"
)

// Snapshot is a point-in-time view of a run for readers outside the frame
// loop.
type Snapshot struct {
	Stats counting.Stats `json:"stats"`

	Running   bool      `json:"running"`
	Skipped   int64     `json:"skipped_frames"`
	Flushes   int       `json:"flushes"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status publishes copies of the engine stats. It is the only state shared
// between the frame loop and other goroutines such as the HTTP API.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatus returns an empty status board.
func NewStatus() *Status {
	return &Status{}
}

func (s *Status) start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Running = true
	s.snap.StartedAt = now
	s.snap.UpdatedAt = now
}

func (s *Status) publish(st counting.Stats, skipped int64, flushes int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Stats = st
	s.snap.Skipped = skipped
	s.snap.Flushes = flushes
	s.snap.UpdatedAt = now
}

func (s *Status) stop(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Running = false
	s.snap.UpdatedAt = now
}

// Snapshot returns the latest published state.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
