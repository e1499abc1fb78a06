// Package server implements the remote log ingestion endpoint that
// backup machines post their transfer log entries to.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/easysave/internal/logsink"
	"github.com/BadgerOps/easysave/internal/store"
)

// MaxBodyBytes caps the size of one posted log entry.
const MaxBodyBytes = 1 << 20

// LogStore persists received entries.
type LogStore interface {
	InsertLogEntry(e logsink.Entry, remoteAddr string) (*store.LogRecord, error)
	ListLogEntries(job string, limit int) ([]store.LogRecord, error)
	CountLogEntries() (int, error)
}

// Options configures request limits.
type Options struct {
	RequestsPerSecond float64
	Burst             int
}

// Server represents the HTTP log ingestion server.
type Server struct {
	store      LogStore
	limiter    *RateLimiter
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new Server instance.
func NewServer(st LogStore, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultRateLimitConfig()
	if opts.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = opts.RequestsPerSecond
	}
	if opts.Burst > 0 {
		cfg.BurstSize = opts.Burst
	}
	return &Server{
		store:   st,
		limiter: NewRateLimiter(cfg),
		logger:  logger,
	}
}

// Handler returns the routed, rate limited handler.
func (s *Server) Handler() http.Handler {
	return s.limiter.Middleware(s.setupRoutes())
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting log ingestion server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down log ingestion server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all HTTP routes on a new ServeMux.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /Logs", s.handleIngestLog)
	mux.HandleFunc("GET /Logs", s.handleListLogs)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}
