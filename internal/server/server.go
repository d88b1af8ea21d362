// Package server wires the bridge together: store, quota, sessions, router,
// LINE connector, reconciler loops, and the HTTP surfaces.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/lewisedginton/line_assistant_bridge/internal/config"
	"github.com/lewisedginton/line_assistant_bridge/internal/connectors/line"
	"github.com/lewisedginton/line_assistant_bridge/internal/middleware"
	"github.com/lewisedginton/line_assistant_bridge/internal/monitoring"
	"github.com/lewisedginton/line_assistant_bridge/internal/qa"
	"github.com/lewisedginton/line_assistant_bridge/internal/quota"
	"github.com/lewisedginton/line_assistant_bridge/internal/reconciler"
	"github.com/lewisedginton/line_assistant_bridge/internal/router"
	"github.com/lewisedginton/line_assistant_bridge/internal/session"
	"github.com/lewisedginton/line_assistant_bridge/internal/store"
	"github.com/lewisedginton/line_assistant_bridge/pkg/httpmiddleware"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
	"github.com/lewisedginton/line_assistant_bridge/pkg/metrics"
)

// Server encapsulates all bridge components and lifecycle management.
type Server struct {
	cfg *appconfig.AppConfig
	log logger.Logger

	pool       *pgxpool.Pool
	store      store.Store
	connector  *line.Connector
	reconciler *reconciler.Reconciler
	metrics    *metrics.Metrics

	cancel context.CancelFunc
}

// New creates a Server instance with all components initialized.
func New(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger) (*Server, error) {
	s := &Server{
		cfg: cfg,
		log: log,
	}

	if err := s.createStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	quotaManager := quota.NewManager(s.store, cfg.Quota.DailyLimit, log)

	sessions := session.NewMachine(s.store, session.Config{
		ActivationPhrase: cfg.Session.ActivationPhrase,
		IdleTimeout:      cfg.Session.IdleTimeout,
	}, log)

	backend, err := s.createQABackend()
	if err != nil {
		return nil, fmt.Errorf("failed to create QA backend: %w", err)
	}

	msgRouter := router.New(quotaManager, sessions, backend, router.Config{
		QuotaExceededReply: cfg.Quota.ExceededReply,
		FallbackReply:      cfg.Backend.FallbackReply,
	}, log)

	s.connector, err = line.New(line.Config{
		ChannelSecret: cfg.Line.ChannelSecret,
		ChannelToken:  cfg.Line.ChannelToken,
	}, msgRouter, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE connector: %w", err)
	}

	// One toggle covers both collector groups; there is no reason to scrape
	// request counters without the reconciler's job counters or vice versa.
	metricsEnabled := cfg.Monitoring.MetricsEnabled
	s.metrics = metrics.NewMetrics(metricsEnabled, metricsEnabled, log)

	loc, err := cfg.Session.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reset timezone: %w", err)
	}

	s.reconciler = reconciler.New(s.store, sessions, quotaManager, s.connector, s.metrics, reconciler.Config{
		SweepInterval:      cfg.Session.SweepInterval,
		ResetCheckInterval: cfg.Session.ResetCheckInterval,
		IdleNotification:   cfg.Session.IdleNotification,
		Location:           loc,
	}, log)

	return s, nil
}

// createStore selects the persistence backend. A configured database URL
// selects Postgres with embedded migrations; otherwise user records live in
// memory and do not survive a restart.
func (s *Server) createStore(ctx context.Context) error {
	if s.cfg.Database.URL == "" {
		s.log.Warn("No database configured, using in-memory store; user records will not survive restarts")
		s.store = store.NewMemory()
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(s.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(s.cfg.Database.MaxConnections)
	poolCfg.MaxConnLifetime = s.cfg.Database.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = s.cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	migrator := store.NewMigrationManager(pool, s.log)
	if err := migrator.RunMigrations(); err != nil {
		pool.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	s.pool = pool
	s.store = store.NewPostgres(pool, s.log)
	s.log.Info("Using Postgres store",
		logger.IntField("max_connections", s.cfg.Database.MaxConnections))
	return nil
}

// createQABackend creates the QA backend for the configured provider.
func (s *Server) createQABackend() (qa.Asker, error) {
	switch s.cfg.Backend.Provider {
	case appconfig.ProviderChatPDF:
		s.log.Info("Initializing ChatPDF backend")
		return qa.NewChatPDF(qa.ChatPDFConfig{
			APIKey:   s.cfg.Backend.ChatPDF.APIKey,
			SourceID: s.cfg.Backend.ChatPDF.SourceID,
			BaseURL:  s.cfg.Backend.ChatPDF.BaseURL,
			Timeout:  s.cfg.Backend.ChatPDF.Timeout,
		}, s.log)

	case appconfig.ProviderOpenAI:
		s.log.Info("Initializing OpenAI backend",
			logger.StringField("model", s.cfg.Backend.OpenAI.Model))
		return qa.NewOpenAI(qa.OpenAIConfig{
			APIKey:       s.cfg.Backend.OpenAI.APIKey,
			Model:        s.cfg.Backend.OpenAI.Model,
			SystemPrompt: s.cfg.Backend.OpenAI.SystemPrompt,
			MaxTokens:    s.cfg.Backend.OpenAI.MaxTokens,
		}, s.log)

	default:
		return nil, fmt.Errorf("unsupported QA provider: %s", s.cfg.Backend.Provider)
	}
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	defer cancel()

	s.setupGracefulShutdown()

	if s.cfg.Monitoring.MetricsEnabled {
		s.metrics.Listen(ctx, s.cfg.Monitoring.MetricsPort)
	}

	var wg sync.WaitGroup

	if s.cfg.Health.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runHealthServer(ctx); err != nil {
				s.log.Error("Health server failed", logger.ErrorField(err))
			}
		}()
	}

	s.reconciler.Start(ctx, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.runWebhookServer(ctx); err != nil {
			s.log.Error("Webhook server failed", logger.ErrorField(err))
			cancel()
		}
	}()

	s.log.Info("Bridge started", logger.IntField("port", s.cfg.Port))

	wg.Wait()
	s.log.Info("All components stopped")

	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// runWebhookServer serves the LINE webhook endpoint until ctx is canceled.
func (s *Server) runWebhookServer(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(s.log.HTTPMiddleware)
	if s.cfg.Monitoring.MetricsEnabled {
		r.Use(s.metrics.HTTPMiddleware())
	}
	corsCfg := httpmiddleware.DefaultCORSConfig()
	if len(s.cfg.Security.CORSAllowedOrigins) > 0 {
		corsCfg.AllowedOrigins = s.cfg.Security.CORSAllowedOrigins
	}
	r.Use(httpmiddleware.CORS(corsCfg))
	r.Use(httpmiddleware.Security(nil))
	r.Use(middleware.MaxBytes(s.cfg.Security.MaxRequestSize))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(middleware.WebhookRecoveryConfig(s.log)))
		r.Post("/webhook", s.connector.WebhookHandler())
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.RequestTimeout,
		WriteTimeout:      s.cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Webhook server listening", logger.IntField("port", s.cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runHealthServer serves the health endpoints until ctx is canceled.
func (s *Server) runHealthServer(ctx context.Context) error {
	healthMonitor := monitoring.NewHealthMonitor(monitoring.Config{
		Logger:           s.log,
		Pool:             s.pool,
		Timeout:          s.cfg.Health.Timeout,
		FailureThreshold: s.cfg.Health.FailureThreshold,
	})

	mux := http.NewServeMux()
	healthMonitor.RegisterHandlers(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Health.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info("Health check server listening", logger.IntField("port", s.cfg.Health.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Health server failed", logger.ErrorField(err))
		}
	}()

	<-ctx.Done()
	s.log.Info("Shutting down health server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// setupGracefulShutdown sets up signal handling for graceful shutdown
func (s *Server) setupGracefulShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		s.log.Info("Received shutdown signal", logger.StringField("signal", sig.String()))

		if s.cancel != nil {
			s.cancel()
		}

		// Give components time to shut down gracefully, then force exit
		time.AfterFunc(30*time.Second, func() {
			s.log.Warn("Force exiting due to timeout")
			os.Exit(1)
		})
	}()
}
