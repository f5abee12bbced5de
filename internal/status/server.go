// internal/status/server.go
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/replaykit/internal/recording"
	"github.com/user/replaykit/internal/telemetry"
)

// ErrNotFound is returned by an UploadFunc for an unknown recording id.
var ErrNotFound = errors.New("recording not found")

// UploadFunc queues the recording with the given id for upload.
type UploadFunc func(ctx context.Context, id string) error

// Deps are the collaborators the status server reads from. Nil fields
// disable the endpoints that need them.
type Deps struct {
	// Snapshot returns the current view of the recordings log.
	Snapshot func() (*recording.Snapshot, error)
	// Upload queues one recording.
	Upload UploadFunc
	// Sweep runs one upload sweep.
	Sweep func(ctx context.Context) error
	// Stats reports queued and running upload jobs.
	Stats func() (queued, running int)
	// Telemetry is tailed by /api/telemetry.
	Telemetry *telemetry.Spool
}

// Server is a lightweight HTTP handler exposing the watch daemon's state.
type Server struct {
	deps    Deps
	started time.Time
	mux     *http.ServeMux
}

// NewServer creates a status Server.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	s.mux.HandleFunc("GET /api/recordings/{id}", s.handleRecording)
	s.mux.HandleFunc("POST /api/recordings/{id}/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/sweep", s.handleSweep)
	s.mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.deps.Stats != nil {
		resp.Queued, resp.Running = s.deps.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordingResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Path       string    `json:"path,omitempty"`
	SourceMaps int       `json:"sourcemaps"`
	Upload     string    `json:"upload,omitempty"`
	RemoteID   string    `json:"remote_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func summarize(rec *recording.Recording) recordingResponse {
	out := recordingResponse{
		ID:         rec.ID,
		Status:     string(rec.Status),
		Title:      rec.Title(),
		CreatedAt:  rec.CreatedAt,
		Path:       rec.Path,
		SourceMaps: len(rec.SourceMaps),
	}
	if rec.Upload != nil {
		out.Upload = string(rec.Upload.Status)
		out.RemoteID = rec.Upload.RemoteID
		out.Error = rec.Upload.Error
	}
	return out
}

func (s *Server) snapshot(w http.ResponseWriter) (*recording.Snapshot, bool) {
	if s.deps.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "recordings not configured")
		return nil, false
	}
	snap, err := s.deps.Snapshot()
	if err != nil {
		slog.Error("read recordings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return snap, true
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	filter := r.URL.Query().Get("status")

	result := make([]recordingResponse, 0, len(snap.Recordings))
	for _, rec := range snap.Recordings {
		if filter != "" && string(rec.Status) != filter {
			continue
		}
		result = append(result, summarize(rec))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	rec := snap.Get(r.PathValue("id"))
	if rec == nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Upload == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads not configured")
		return
	}
	id := r.PathValue("id")
	// the upload outlives the request
	if err := s.deps.Upload(context.WithoutCancel(r.Context()), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		slog.Warn("queue upload failed", "recording_id", id, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweep == nil {
		writeError(w, http.StatusServiceUnavailable, "sweep not configured")
		return
	}
	if err := s.deps.Sweep(r.Context()); err != nil {
		slog.Error("manual sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telemetry == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry disabled")
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.deps.Telemetry.Tail(limit)
	if err != nil {
		slog.Error("tail telemetry failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []telemetry.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
