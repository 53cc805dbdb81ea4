// Package status runs the agent's local, unauthenticated health HTTP
// server — one of the agent's two background tasks alongside the poll
// loop itself (spec §5) — grounded on the broker's own healthz/readyz
// shape in internal/broker/httpapi/health.go.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Server exposes /healthz (liveness) and /status (last poll cycle outcome).
type Server struct {
	httpServer *http.Server
	lastCycle  atomic.Value // holds cycleReport
}

type cycleReport struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// New builds a Server listening on addr.
func New(addr string) *Server {
	s := &Server{}
	s.lastCycle.Store(cycleReport{Status: "starting"})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /status", s.status)
	s.httpServer = &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	return s
}

// ReportCycle records the outcome of the most recent poll cycle.
func (s *Server) ReportCycle(status, message string) {
	s.lastCycle.Store(cycleReport{Status: status, Message: message, At: time.Now()})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.lastCycle.Load())
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
