// Package httpserver serves the health, readiness, run status and metrics
// endpoints of the ingestion daemon.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/research-feed-service/internal/database"
)

// HealthChecker reports store health. *database.DB implements it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

var _ HealthChecker = (*database.DB)(nil)

// Server is the daemon's HTTP listener.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	health     HealthChecker
	runs       *RunTracker
	cfg        Config
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MetricsPath mounts the Prometheus handler. Empty disables it.
	MetricsPath string
	// StaleAfter marks the service not ready when no run has finished for
	// this long. Zero disables the check.
	StaleAfter time.Duration
}

// NewServer creates a server. health may be nil when no database is used.
func NewServer(cfg Config, health HealthChecker, runs *RunTracker, logger zerolog.Logger) *Server {
	if runs == nil {
		runs = NewRunTracker()
	}
	s := &Server{
		health: health,
		runs:   runs,
		cfg:    cfg,
		logger: logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogMiddleware(s.logger))

	r.Group(func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)
		r.Get("/healthz", s.healthHandler)
		r.Get("/readyz", s.readinessHandler)
		r.Get("/status", s.statusHandler)
	})

	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, promhttp.Handler())
	}

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports liveness. The process is alive if it can answer.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// readinessHandler checks the database and the age of the last run.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ready", Database: "disabled"}
	if s.health != nil {
		h := s.health.Health(r.Context())
		resp.Database = h.Status
		if h.Status != "healthy" {
			resp.Status = "not_ready"
			resp.Error = h.Error
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	if s.cfg.StaleAfter > 0 {
		if last, ok := s.runs.Last(); ok && time.Since(last.FinishedAt) > s.cfg.StaleAfter {
			resp.Status = "not_ready"
			resp.Error = fmt.Sprintf("no run finished since %s", last.FinishedAt.Format(time.RFC3339))
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusHandler returns the summary of the most recent run.
func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.runs.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, runStatusFrom(last))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
