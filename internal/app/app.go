package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crmkit/pacer/internal/api"
	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/config"
	"github.com/crmkit/pacer/internal/content"
	"github.com/crmkit/pacer/internal/dispatch"
	"github.com/crmkit/pacer/internal/metrics"
	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/ratelimit"
	"github.com/crmkit/pacer/internal/schedule"
	"github.com/crmkit/pacer/internal/store"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *store.BoltStore
	registry      *channel.Registry
	rateLimiter   *ratelimit.Limiter
	dispatcher    *dispatch.Dispatcher
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Create job storage
	st, err := store.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	// Channel profile registry: built-ins plus config overrides
	registry := channel.NewRegistry(cfg.Channels.Version, cfg.Channels.Overrides)
	logger.Info("channel registry loaded",
		"version", registry.Version(),
		"overrides", len(cfg.Channels.Overrides),
	)

	// Create rate limiter if enabled
	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rateLimiter, err = ratelimit.NewLimiter(st.DB(), registry, &cfg.RateLimit.Limits)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("rate limiting enabled")
	}

	// Domain services
	pl := planner.New(registry, cfg.SafetyFactors())
	scorer := content.NewScorer(registry, cfg.Scoring.ExtraSpamPhrases)
	estimator := schedule.NewEstimator(cfg.Window())

	// Metrics
	var collector *metrics.Collector
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		collector, err = metrics.NewCollector(st.DB(), m, jobStatsAdapter{st}, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}

		metricsServer = metrics.NewServerWithAllowedIPs(
			m,
			cfg.Metrics.ListenAddr,
			cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"),
		)
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	}

	// Dispatcher paces queued campaigns through the sender
	var dispatcher *dispatch.Dispatcher
	if cfg.Dispatch.Enabled {
		sender := newSender(cfg, collector, logger)
		dispatcher = dispatch.New(
			st,
			sender,
			rateLimiter,
			cfg.Window(),
			dispatch.Config{
				ProcessInterval:      cfg.Dispatch.ProcessInterval,
				BurstPerAccount:      cfg.Dispatch.BurstPerAccount,
				MaxConsecutiveErrors: cfg.Dispatch.MaxConsecutiveErrors,
			},
			logger.With("component", "dispatcher"),
		)
	}

	// Create API server
	apiServer := api.NewServer(
		registry,
		pl,
		scorer,
		estimator,
		st,
		collector,
		&cfg.API,
		logger.With("component", "api"),
	)

	return &App{
		config:        cfg,
		store:         st,
		registry:      registry,
		rateLimiter:   rateLimiter,
		dispatcher:    dispatcher,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		collector:     collector,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting pacer",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"dispatch_enabled", a.dispatcher != nil,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start background components
	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if a.dispatcher != nil {
		a.dispatcher.Start(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the dispatcher first (stop sending)
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	// Shutdown servers
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Stop collector and rate limiter (both persist counters)
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	// Close storage
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// jobStatsAdapter bridges the job store to the metrics collector
type jobStatsAdapter struct {
	store *store.BoltStore
}

func (a jobStatsAdapter) JobStats(ctx context.Context) (*metrics.JobStats, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.JobStats{
		Pending:   stats.Pending,
		Running:   stats.Running,
		Paused:    stats.Paused,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Total:     stats.Total,
	}, nil
}

// newSender picks the outbound sender. Without a transport integration
// the dry-run sender logs every send; metric tracking wraps either way.
func newSender(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) dispatch.Sender {
	base := &dispatch.LogSender{Logger: logger.With("component", "sender", "dry_run", cfg.Dispatch.DryRun)}
	return &trackingSender{next: base, collector: collector}
}

// trackingSender decorates a Sender with metric tracking
type trackingSender struct {
	next      dispatch.Sender
	collector *metrics.Collector
}

func (s *trackingSender) Send(ctx context.Context, job *store.Job, recipient store.Recipient, accountID string) error {
	err := s.next.Send(ctx, job, recipient, accountID)
	if err != nil {
		if s.collector != nil {
			s.collector.TrackMessageFailed(string(job.Channel), "send_error")
		} else {
			metrics.IncMessagesFailed(string(job.Channel), "send_error")
		}
		return err
	}
	if s.collector != nil {
		s.collector.TrackMessageSent(string(job.Channel))
	} else {
		metrics.IncMessagesSent(string(job.Channel))
	}
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
