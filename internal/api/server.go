// Package api serves a read-only JSON view of the running counter.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/region"
)

// maxLimit caps ?limit= on list endpoints.
const maxLimit = 1000

// EventStore is the part of the database the API reads.
type EventStore interface {
	RecentEvents(ctx context.Context, runID string, limit int) ([]db.EventRecord, error)
	Runs(ctx context.Context, limit int) ([]db.RunRecord, error)
}

// Server exposes the status board and, when configured, the event store.
type Server struct {
	status *pipeline.Status
	store  EventStore
	runID  string
}

// NewServer returns a Server. store may be nil, in which case the event and
// run endpoints answer 404. runID scopes /api/events to the current run.
func NewServer(status *pipeline.Status, store EventStore, runID string) *Server {
	if status == nil {
		status = pipeline.NewStatus()
	}
	return &Server{status: status, store: store, runID: runID}
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/region", s.showRegion)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/runs", s.listRuns)
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": snap.Running,
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

type regionResponse struct {
	Rect        region.Rect  `json:"rect"`
	TiltDeg     float64      `json:"tilt_deg"`
	FrameWidth  int          `json:"frame_width"`
	FrameHeight int          `json:"frame_height"`
	Polygon     [][2]float64 `json:"polygon"`
}

func (s *Server) showRegion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st := s.status.Snapshot().Stats
	resp := regionResponse{
		Rect:        st.Rect,
		TiltDeg:     st.TiltDeg,
		FrameWidth:  st.FrameWidth,
		FrameHeight: st.FrameHeight,
		Polygon:     make([][2]float64, 0, len(st.Polygon)),
	}
	for _, p := range st.Polygon {
		resp.Polygon = append(resp.Polygon, [2]float64{p.X, p.Y})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	return min(n, maxLimit), nil
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.store == nil {
		writeJSONError(w, http.StatusNotFound, "event store not configured")
		return
	}
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID := s.runID
	if q := r.URL.Query().Get("run"); q != "" {
		runID = q
		if q == "all" {
			runID = ""
		}
	}
	events, err := s.store.RecentEvents(r.Context(), runID, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []db.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.store == nil {
		writeJSONError(w, http.StatusNotFound, "event store not configured")
		return
	}
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}
