// Package api exposes the service over HTTP REST endpoints.
//
// Endpoints:
//
//	POST /api/chat                  chat turn with tool-backed retrieval
//	POST /api/search                direct corpus search
//	GET  /api/analytics/summary     usage and cost aggregates
//	POST /api/analytics/reset       clear analytics data
//	GET  /api/analytics/log/{id}    one request/response exchange
//	GET  /api/analytics/download    CSV usage report
//	GET  /health                    liveness probe
//	GET  /ready                     readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, request ID and logging middleware
//   - chat.go, search.go, analytics.go, health.go: endpoint handlers
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/chat"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/rag"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to keep slow clients from
	// pinning connections.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because a chat turn can take two provider
	// round trips plus retrieval.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health    *HealthHandler
	chat      *ChatHandler
	search    *SearchHandler
	analytics *AnalyticsHandler
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(pool *pgxpool.Pool, chatSvc *chat.Service, searcher *rag.Searcher, store AnalyticsStore, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		logger:    logger,
		health:    NewHealthHandler(pool, logger),
		chat:      NewChatHandler(chatSvc, logger),
		search:    NewSearchHandler(searcher, logger),
		analytics: NewAnalyticsHandler(store, logger),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.search.RegisterRoutes(mux)
	s.analytics.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → request ID → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
