package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/config"
	"github.com/bryanchriswhite/screenmask/internal/detect"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
	"github.com/bryanchriswhite/screenmask/internal/output"
	"github.com/bryanchriswhite/screenmask/internal/overlay"
	"github.com/bryanchriswhite/screenmask/internal/pipeline"
)

// Version is reported by /api/health.
const Version = "0.1.0"

// Error codes returned in JSON error bodies.
const (
	ErrCodeDetectorNotReady = "detector_not_ready"
	ErrCodeAlreadyRunning   = "already_running"
	ErrCodeDisplayNotFound  = "display_not_found"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeInternal         = "internal_error"
)

// Options wires the server to the running components. Stream, Emitter and
// Selector are optional.
type Options struct {
	Config   *config.Manager
	Displays *display.Enumerator
	Pipeline *pipeline.Orchestrator
	Detector detect.Detector
	Overlay  *overlay.Manager
	Selector *capture.Selector
	Stream   *output.MJPEGOutput
	Emitter  *output.Emitter
}

// Server represents the HTTP API server
type Server struct {
	router *mux.Router
	opts   Options
	hub    *Hub
	proc   *process.Process
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		hub:    NewHub(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}

	s.setupRoutes()
	return s
}

// Hub returns the websocket hub so it can be registered with an emitter.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/displays", s.handleDisplays).Methods("GET")

	// Monitoring session
	api.HandleFunc("/monitoring/start", s.handleStart).Methods("POST")
	api.HandleFunc("/monitoring/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/monitoring/status", s.handleStatus).Methods("GET")

	// Overlay state
	api.HandleFunc("/mosaic/latest", s.handleLatestMosaic).Methods("GET")
	api.HandleFunc("/mosaic/style", s.handleMosaicStyle).Methods("GET")
	api.HandleFunc("/overlay/show", s.handleOverlayShow).Methods("POST")
	api.HandleFunc("/overlay/hide", s.handleOverlayHide).Methods("POST")

	// Diagnostics
	api.HandleFunc("/capture/state", s.handleCaptureState).Methods("GET")
	api.HandleFunc("/capture/state", s.handleResetCaptureState).Methods("DELETE")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	api.Handle("/events", s.hub)

	if s.opts.Stream != nil {
		s.router.HandleFunc("/stream", s.opts.Stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/", s.opts.Stream.GetViewerHandler()).Methods("GET")
	}
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", ln.Addr().String()).
		Msg("Starting server")

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	body := map[string]string{"error": code}
	if err != nil {
		body["message"] = err.Error()
	}
	writeJSON(w, status, body)
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleDisplays(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Displays.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type startRequest struct {
	DisplayID *int `json:"display_id"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	if req.DisplayID == nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, errors.New("display_id is required"))
		return
	}

	if !detect.IsReady(s.opts.Detector) {
		writeError(w, http.StatusConflict, ErrCodeDetectorNotReady, nil)
		return
	}

	d, err := s.opts.Displays.Find(*req.DisplayID)
	if err != nil {
		if errors.Is(err, display.ErrDisplayNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeDisplayNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err)
		return
	}

	if s.opts.Selector != nil && s.opts.Config.Get().Monitoring.ResetCaptureState {
		s.opts.Selector.Reset(d.ID)
	}

	if err := s.opts.Pipeline.Start(d); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, ErrCodeAlreadyRunning, err)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err)
		return
	}

	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.opts.Pipeline.Stop()
	writeJSON(w, http.StatusOK, s.statusBody())
}

type statusResponse struct {
	pipeline.Status
	Ready          bool `json:"ready"`
	OverlayVisible bool `json:"overlay_visible"`
}

func (s *Server) statusBody() statusResponse {
	return statusResponse{
		Status:         s.opts.Pipeline.Status(),
		Ready:          detect.IsReady(s.opts.Detector),
		OverlayVisible: s.opts.Overlay.Visible(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleLatestMosaic(w http.ResponseWriter, r *http.Request) {
	// null when nothing has been applied yet
	writeJSON(w, http.StatusOK, s.opts.Overlay.Latest())
}

func (s *Server) handleMosaicStyle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"style": s.opts.Overlay.Style()})
}

func (s *Server) handleOverlayShow(w http.ResponseWriter, r *http.Request) {
	s.opts.Overlay.Show()
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleOverlayHide(w http.ResponseWriter, r *http.Request) {
	s.opts.Overlay.Hide()
	writeJSON(w, http.StatusOK, s.statusBody())
}

type captureStateResponse struct {
	Displays map[string]capture.MethodState `json:"displays"`
	Prefetch pipeline.PrefetchStats         `json:"prefetch"`
}

func (s *Server) handleCaptureState(w http.ResponseWriter, r *http.Request) {
	resp := captureStateResponse{
		Displays: map[string]capture.MethodState{},
		Prefetch: s.opts.Pipeline.Prefetcher().Stats(),
	}
	if s.opts.Selector != nil {
		for id, st := range s.opts.Selector.Snapshot() {
			resp.Displays[strconv.Itoa(id)] = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResetCaptureState forgets every display's method state so the next
// capture starts again from the fastest method.
func (s *Server) handleResetCaptureState(w http.ResponseWriter, r *http.Request) {
	if s.opts.Selector != nil {
		s.opts.Selector.ResetAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

type processStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

type statsResponse struct {
	Process  *processStats        `json:"process,omitempty"`
	Stream   *output.StreamStats  `json:"stream,omitempty"`
	Emitter  *output.EmitterStats `json:"emitter,omitempty"`
	Clients  int                  `json:"event_clients"`
	Dropped  uint64               `json:"event_drops"`
	Pipeline pipeline.Status      `json:"pipeline"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Clients:  s.hub.ClientCount(),
		Dropped:  s.hub.Dropped(),
		Pipeline: s.opts.Pipeline.Status(),
	}

	if s.proc != nil {
		ps := &processStats{}
		if cpu, err := s.proc.CPUPercentWithContext(r.Context()); err == nil {
			ps.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfoWithContext(r.Context()); err == nil {
			ps.RSSBytes = mem.RSS
		}
		if n, err := s.proc.NumThreadsWithContext(r.Context()); err == nil {
			ps.Threads = n
		}
		resp.Process = ps
	}
	if s.opts.Stream != nil {
		st := s.opts.Stream.Stats()
		resp.Stream = &st
	}
	if s.opts.Emitter != nil {
		st := s.opts.Emitter.Stats()
		resp.Emitter = &st
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	// Decode over the current config so partial bodies keep other values.
	cfg := s.opts.Config.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	if err := s.opts.Config.Update(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err)
		return
	}

	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}
