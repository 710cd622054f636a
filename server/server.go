package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/veligo/chronodrive/config"
	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/run"
	"github.com/veligo/chronodrive/schedule"
)

// Server serves the progress websocket and the control API.
type Server struct {
	cfg       config.ServerConfig
	hub       *Hub
	runs      *run.Registry
	tasks     *schedule.Store
	execs     *schedule.ExecutionStore
	scheduler *schedule.Scheduler
	logger    *zap.SugaredLogger

	httpServer *http.Server
}

// New creates the server. The hub doubles as the run emitter; wire it into
// controllers with run.MultiEmitter if other emitters are needed.
func New(cfg config.ServerConfig, hub *Hub, runs *run.Registry, tasks *schedule.Store, execs *schedule.ExecutionStore, scheduler *schedule.Scheduler, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		runs:      runs,
		tasks:     tasks,
		execs:     execs,
		scheduler: scheduler,
		logger:    log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeHTTP)
	mux.HandleFunc("/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/api/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/api/run/pause", s.corsMiddleware(s.handlePause))
	mux.HandleFunc("/api/run/resume", s.corsMiddleware(s.handleResume))
	mux.HandleFunc("/api/run/stop", s.corsMiddleware(s.handleStop))
	mux.HandleFunc("/api/tasks", s.corsMiddleware(s.handleTasks))
	mux.HandleFunc("/api/tasks/", s.corsMiddleware(s.handleTask))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Infow("Server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

// Shutdown drains HTTP connections and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.hub.Close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	s.logger.Infow("Server stopped")
	return nil
}

// corsMiddleware adds CORS headers for the allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range s.cfg.AllowedOrigins {
			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
