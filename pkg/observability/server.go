package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Server provides HTTP endpoints for observability: health and readiness
// probes, Prometheus metrics, and the current synchronization status.
type Server struct {
	httpServer *http.Server
	port       int
	checker    *HealthChecker
	syncStatus func() any
}

// NewServer creates a new observability server. syncStatus, when non-nil, is
// rendered as JSON at /sync/status.
func NewServer(port int, checker *HealthChecker, syncStatus func() any) *Server {
	return &Server{
		port:       port,
		checker:    checker,
		syncStatus: syncStatus,
	}
}

// Start starts the observability server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.checker.HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", s.checker.ReadinessHandler())

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())

	if s.syncStatus != nil {
		mux.HandleFunc("/sync/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(s.syncStatus())
		})
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
