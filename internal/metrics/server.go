package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ErrUnknownTrack is returned by ChannelAPI.RequestTrack when the track
	// cannot be resolved to a loop file.
	ErrUnknownTrack = errors.New("unknown track")

	// ErrTransitionBusy is returned when a switch is already in flight.
	ErrTransitionBusy = errors.New("transition in progress")
)

// ChannelAPI is the pull surface and control hooks served over HTTP.
type ChannelAPI interface {
	// Healthy reports whether an encoder is on air and not degraded.
	Healthy() bool

	// StatusDocument returns a JSON-serializable status snapshot.
	StatusDocument() any

	// RecoveryStats returns the recovery policy counters.
	RecoveryStats() any

	// RecoveryHistory returns up to limit recovery records, newest first.
	RecoveryHistory(limit int) any

	// RequestTrack schedules a switch to trackKey. It returns once the
	// track has been resolved; the switch completes asynchronously.
	RequestTrack(trackKey string) error

	// ResetRecovery clears the restart budget and escalation.
	ResetRecovery()
}

// Server provides HTTP endpoints for Prometheus metrics, health checks and
// the channel API.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new metrics server. api may be nil, in which case
// only /metrics and /health are served.
func NewServer(addr string, gatherer prometheus.Gatherer, api ChannelAPI, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(gatherer, api, logger),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// NewHandler builds the HTTP routes.
func NewHandler(gatherer prometheus.Gatherer, api ChannelAPI, logger *slog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{api: api, logger: logger}

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Health check endpoint
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/healthz", h.health)

	if api != nil {
		mux.HandleFunc("/status", h.status)
		mux.HandleFunc("/recovery", h.recovery)
		mux.HandleFunc("/recovery/history", h.history)
		mux.HandleFunc("/recovery/reset", h.reset)
		mux.HandleFunc("/track", h.track)
	}
	return mux
}

type handlers struct {
	api    ChannelAPI
	logger *slog.Logger
}

// health handles health check requests.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if h.api != nil && !h.api.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "degraded")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.api.StatusDocument())
}

func (h *handlers) recovery(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.api.RecoveryStats())
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.api.RecoveryHistory(limit))
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	h.api.ResetRecovery()
	h.logger.Info("recovery_reset_requested", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// trackRequest is the POST /track body.
type trackRequest struct {
	Track string `json:"track"`
}

func (h *handlers) track(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	req := trackRequest{Track: r.URL.Query().Get("track")}
	if req.Track == "" {
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
	}
	if req.Track == "" {
		writeError(w, http.StatusBadRequest, "track is required")
		return
	}

	err := h.api.RequestTrack(req.Track)
	switch {
	case err == nil:
		h.logger.Info("track_change_accepted", "track", req.Track, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "track": req.Track})
	case errors.Is(err, ErrUnknownTrack):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTransitionBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start starts the metrics server in a goroutine.
// Returns immediately. Use Shutdown to stop.
func (s *Server) Start() error {
	s.logger.Info("metrics_server_starting", "addr", s.addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_shutting_down")
	return s.server.Shutdown(ctx)
}
