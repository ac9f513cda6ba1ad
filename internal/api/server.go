package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/config"
	"github.com/crmkit/pacer/internal/content"
	"github.com/crmkit/pacer/internal/metrics"
	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/schedule"
	"github.com/crmkit/pacer/internal/store"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	registry   *channel.Registry
	planner    *planner.Planner
	scorer     *content.Scorer
	estimator  *schedule.Estimator
	store      store.Store
	collector  *metrics.Collector
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. The collector may be nil when
// metrics are disabled.
func NewServer(
	registry *channel.Registry,
	p *planner.Planner,
	scorer *content.Scorer,
	estimator *schedule.Estimator,
	st store.Store,
	collector *metrics.Collector,
	cfg *config.APIConfig,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		registry:  registry,
		planner:   p,
		scorer:    scorer,
		estimator: estimator,
		store:     st,
		collector: collector,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddlewareWithCollector(s.collector))
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/rate-limit/plan", s.handlePlan)
		r.Post("/content/validate", s.handleValidateContent)
		r.Post("/segments/preview", s.handleSegmentPreview)
		r.Post("/schedule/estimate", s.handleScheduleEstimate)
		r.Get("/channels", s.handleChannels)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)
			r.Get("/{id}", s.handleGetCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/pause", s.handlePauseCampaign)
			r.Post("/{id}/resume", s.handleResumeCampaign)
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
