// Package server assembles the HTTP API in front of the task runner.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"cubqueue/internal/config"
	"cubqueue/internal/server/handlers"
	"cubqueue/internal/server/middleware"
)

// Server is the HTTP server for the cubqueue API.
type Server struct {
	httpServer *http.Server
}

// New wires routes, middleware and timeouts. metricsHandler may be nil
// when metrics are disabled.
func New(cfg *config.Config, h *handlers.Handlers, metricsHandler http.Handler, log *slog.Logger) *Server {
	limit := middleware.RateLimit(cfg.RateLimit, cfg.RateBurst)

	mux := http.NewServeMux()

	// Scripts
	mux.Handle("POST /api/script", limit(http.HandlerFunc(h.RegisterScript)))
	mux.HandleFunc("GET /api/script", h.ListScripts)
	mux.HandleFunc("DELETE /api/script/{name}", h.DeleteScript)

	// Tasks
	mux.Handle("POST /api/task", limit(http.HandlerFunc(h.SubmitTask)))
	mux.HandleFunc("GET /api/task", h.ListTasks)
	mux.HandleFunc("GET /api/task/{id}", h.GetTaskStatus)
	mux.HandleFunc("GET /api/task/{id}/log", h.GetTaskLog)
	mux.HandleFunc("GET /api/task/{id}/metadata", h.DownloadMetadata)
	mux.HandleFunc("GET /api/task/{id}/result", h.DownloadResult)
	mux.HandleFunc("DELETE /api/task/{id}", h.CancelTask)

	// System
	mux.HandleFunc("GET /api/usage", h.GetUsage)
	mux.HandleFunc("GET /health", h.Healthz)
	mux.HandleFunc("GET /ready", h.Readyz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Addr(),
			Handler: middleware.RequestID(log)(mux),
			// Whole-request timeouts would cut off large uploads and
			// archive downloads, so only the header read is bounded.
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled
// or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
