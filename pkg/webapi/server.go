// Package webapi exposes the case pipeline over HTTP: case creation and
// retrieval, server-sent event streaming of stage output, health, and
// Prometheus metrics.
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"caseflow/pkg/auth"
	"caseflow/pkg/dispatch"
	"caseflow/pkg/logx"
	"caseflow/pkg/persistence"
)

// DefaultStreamTimeout bounds how long a streaming connection waits for a
// case to finish before sending a timeout frame.
const DefaultStreamTimeout = 10 * time.Minute

// Config configures the HTTP server.
type Config struct {
	Addr          string
	StreamTimeout time.Duration
}

// Server is the HTTP front end over the store and dispatcher.
type Server struct {
	store         *persistence.Store
	dispatcher    *dispatch.Dispatcher
	validator     *auth.Validator
	logger        *logx.Logger
	httpServer    *http.Server
	streamTimeout time.Duration
}

// NewServer creates the HTTP server. A nil validator disables authentication,
// which is only appropriate for local development.
func NewServer(cfg Config, store *persistence.Store, dispatcher *dispatch.Dispatcher, validator *auth.Validator) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}

	s := &Server{
		store:         store,
		dispatcher:    dispatcher,
		validator:     validator,
		logger:        logx.NewLogger("webapi"),
		streamTimeout: cfg.StreamTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/cases", s.requireAuth(s.handleCreateCase))
	mux.HandleFunc("GET /api/cases", s.requireAuth(s.handleListCases))
	mux.HandleFunc("GET /api/cases/{id}", s.requireAuth(s.handleGetCase))
	mux.HandleFunc("GET /api/cases/{id}/stream", s.requireAuth(s.handleStreamCase))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// Handler returns the server's handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// requireAuth validates the bearer token and passes the subject through as
// the user id scoping all store reads.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.validator == nil {
			next(w, r, "local")
			return
		}
		claims, err := s.validator.FromRequest(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
			return
		}
		next(w, r, claims.Subject)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.dispatcher.QueueDepth(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
