// Package coordinator contains the coordinator-specific logic for the HTTP API.
package coordinator

import (
	"context"
	"net/http"
	"time"

	"botfleet/internal/coordinator/handlers"
	"botfleet/internal/coordinator/middleware"

	"golang.org/x/time/rate"
)

// Server is the HTTP server for the coordinator API.
type Server struct {
	httpServer *http.Server
}

// New creates a new coordinator server. adminToken gates the admin endpoints;
// metricsHandler serves the Prometheus scrape endpoint.
func New(addr string, h *handlers.Handlers, adminToken string, metricsHandler http.Handler, requestTimeout time.Duration) *Server {
	adminMW := middleware.RequireAdminAuth(adminToken)
	pollMW := middleware.RateLimit(rate.Limit(50), 100)

	mux := http.NewServeMux()

	// Job lifecycle
	mux.Handle("POST /jobs/populate", adminMW(http.HandlerFunc(h.PopulateJobs)))
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.Handle("POST /jobs/claim", pollMW(http.HandlerFunc(h.ClaimJob)))
	mux.HandleFunc("POST /jobs/{id}/start", h.StartJob)
	mux.HandleFunc("POST /jobs/{id}/complete", h.CompleteJob)
	mux.HandleFunc("POST /jobs/{id}/fail", h.FailJob)
	mux.Handle("POST /jobs/{id}/release", adminMW(http.HandlerFunc(h.ReleaseJob)))

	// Bot lifecycle
	mux.HandleFunc("POST /bots/register", h.RegisterBot)
	mux.Handle("POST /bots/heartbeat", pollMW(http.HandlerFunc(h.HeartbeatBot)))
	mux.Handle("POST /bots/{id}/assign-operation", adminMW(http.HandlerFunc(h.AssignOperation)))
	mux.Handle("DELETE /bots/{id}", adminMW(http.HandlerFunc(h.DeleteBot)))
	mux.Handle("POST /bots/{id}/reset", adminMW(http.HandlerFunc(h.ResetBot)))
	mux.HandleFunc("GET /bots", h.ListBots)
	mux.HandleFunc("GET /bots/{id}/stats", h.BotStats)

	// Observability
	mux.HandleFunc("GET /operations", h.Operations)
	mux.HandleFunc("GET /metrics/summary", h.MetricsSummary)
	mux.HandleFunc("GET /datalake/stats", h.DatalakeStats)
	mux.HandleFunc("GET /datalake/recent", h.DatalakeRecent)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Admin
	mux.Handle("POST /admin/cleanup", adminMW(http.HandlerFunc(h.AdminCleanup)))
	mux.Handle("GET /admin/cleanup/status", adminMW(http.HandlerFunc(h.CleanupStatus)))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: requestTimeout,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
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
