package trackfeed

import (
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/occupancy"
)

// wireFrame is the JSON shape of one tracker frame:
//
//	{"width":500,"height":375,"fps":25,"time":"2024-05-04T12:00:00Z",
//	 "tracks":[{"id":7,"x":10,"y":150,"score":0.9}]}
type wireFrame struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	FPS    float64     `json:"fps,omitempty"`
	Time   *time.Time  `json:"time,omitempty"`
	Tracks []wireTrack `json:"tracks"`
}

type wireTrack struct {
	ID    occupancy.TrackID `json:"id"`
	X     float64           `json:"x"`
	Y     float64           `json:"y"`
	Score *float64          `json:"score,omitempty"`
}

// Decode parses one wire frame. Tracks that carry a score below minScore
// are dropped; tracks without a score are always kept.
func Decode(data []byte, minScore float64) (counting.Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return counting.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	f := counting.Frame{
		Width:  wf.Width,
		Height: wf.Height,
		FPS:    wf.FPS,
	}
	if wf.Time != nil {
		f.Time = *wf.Time
	}
	for _, t := range wf.Tracks {
		if t.ID == "" {
			return counting.Frame{}, fmt.Errorf("decode frame: track without id")
		}
		if t.Score != nil && *t.Score < minScore {
			continue
		}
		f.Tracks = append(f.Tracks, occupancy.Observation{ID: t.ID, Position: r2.Vec{X: t.X, Y: t.Y}})
	}
	return f, nil
}

// Encode renders f in the wire format, one line without a trailing newline.
// Scores are not retained by counting.Frame and are therefore not written.
func Encode(f counting.Frame) ([]byte, error) {
	wf := wireFrame{
		Width:  f.Width,
		Height: f.Height,
		FPS:    f.FPS,
		Tracks: make([]wireTrack, 0, len(f.Tracks)),
	}
	if !f.Time.IsZero() {
		t := f.Time
		wf.Time = &t
	}
	for _, o := range f.Tracks {
		wf.Tracks = append(wf.Tracks, wireTrack{ID: o.ID, X: o.Position.X, Y: o.Position.Y})
	}
	return json.Marshal(wf)
}
