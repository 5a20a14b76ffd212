package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Operational endpoints (no organization required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(OrganizationMiddleware)

		r.Post("/assess", handler.Assess)
		r.Get("/assessments/{id}", handler.GetAssessment)
		r.Post("/assessments/{id}/outcome", handler.ReportOutcome)

		r.Get("/trackers/{invoiceId}", handler.GetTracker)
		r.Get("/trackers/{invoiceId}/block-status", handler.GetBlockStatus)
		r.Post("/trackers/{invoiceId}/unblock", handler.Unblock)

		r.Get("/customers/{customerId}/trust", handler.GetTrust)
		r.Put("/customers/{customerId}/list", handler.SetListStatus)

		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
