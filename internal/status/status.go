// Package status exposes the relay's health and counters over HTTP.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/groblegark/hookrelay/internal/metrics"
)

// NewHandler returns an http.Handler with the health and stats routes
// registered.
func NewHandler(reg *metrics.Register) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := reg.Snapshot()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "ok",
			"connection": snap.ConnState,
		})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reg.Snapshot())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs the status surface on its own listener so the pipeline never
// shares a failure domain with observability.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

func NewServer(addr string, reg *metrics.Register, log *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(reg),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background. Listener errors are logged, not fatal.
func (s *Server) Start() {
	go func() {
		s.log.Info("status server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server stopped", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
