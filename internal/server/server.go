// Package server exposes counters over HTTP: prometheus metrics, a JSON API
// and a websocket feed of probe and alert events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pingcounter/internal/engine"
	"pingcounter/internal/storage"
	pkgerrors "pingcounter/pkg/errors"
)

// Snapshotter reads counter state. *engine.Engine satisfies it.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]engine.CounterSnapshot, error)
	SnapshotOf(ctx context.Context, name string) (engine.CounterSnapshot, error)
}

// Options carries the collaborators of a Server. Storage, Hub and Gatherer
// are optional; their routes answer 404 when absent.
type Options struct {
	Counters Snapshotter
	Storage  storage.Storage
	Hub      *Hub
	Gatherer prometheus.Gatherer
	Logger   log.Logger
}

// Server wraps HTTP serving of the API.
type Server struct {
	httpServer   *http.Server
	counters     Snapshotter
	storage      storage.Storage
	hub          *Hub
	logger       log.Logger
	historyLimit int
}

// New creates a configured HTTP server.
func New(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		counters:     opts.Counters,
		storage:      opts.Storage,
		hub:          opts.Hub,
		logger:       log.With(logger, "component", "http"),
		historyLimit: 500,
	}
	s.registerRoutes(mux, opts.Gatherer)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic until Shutdown.
func (s *Server) Run() error {
	level.Info(s.logger).Log("msg", "listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /api/counters", s.handleCounters)
	mux.HandleFunc("GET /api/counters/{name}", s.handleCounter)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/uptime", s.handleUptime)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.handleWS)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.counters.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	views := make([]counterView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, newCounterView(snap))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	snap, err := s.counters.SnapshotOf(r.Context(), r.PathValue("name"))
	if errors.Is(err, pkgerrors.ErrCounterNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, newCounterView(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		http.NotFound(w, r)
		return
	}
	probes, err := s.storage.GetProbeHistory(r.Context(), r.URL.Query().Get("counter"), parseLimit(r, s.historyLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, probes)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		http.NotFound(w, r)
		return
	}
	events, err := s.storage.GetAlertHistory(r.Context(), r.URL.Query().Get("counter"), parseLimit(r, s.historyLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		http.NotFound(w, r)
		return
	}
	probes, err := s.storage.GetProbeHistory(r.Context(), r.URL.Query().Get("counter"), parseLimit(r, s.historyLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ComputeUptime(probes))
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
