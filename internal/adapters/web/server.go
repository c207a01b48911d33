// Package web serves the action API over HTTP. One action endpoint, a
// liveness probe and the Prometheus exposition; every other capability goes
// through the dispatcher.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/wmesh/internal/core/services/dispatch"
)

// Server handles HTTP connections.
type Server struct {
	addr       string
	dispatcher *dispatch.Dispatcher
	log        *slog.Logger
	srv        *http.Server
}

// NewServer creates a web server bound to one dispatcher.
func NewServer(addr string, d *dispatch.Dispatcher) *Server {
	return &Server{
		addr:       addr,
		dispatcher: d,
		log:        slog.With("component", "web"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/v1/action",
		otelhttp.NewHandler(http.HandlerFunc(s.handleAction), "action")).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("web server shutdown", "error", err)
		}
	}()

	s.log.Info("web server listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dispatch.Response{
			Success:   false,
			Error:     "malformed request body: " + err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	// The dispatcher never fails the transport; outcome lives in the
	// envelope.
	resp := s.dispatcher.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}
