package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"alertrelay/internal/axiom"
	"alertrelay/internal/clock"
	"alertrelay/internal/config"
	"alertrelay/internal/ingest"
	"alertrelay/internal/logging"
	"alertrelay/internal/metrics"
	"alertrelay/internal/notify"
	"alertrelay/internal/routes"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// legacyMonitorPath is kept as an alias for monitors configured against older deployments.
const legacyMonitorPath = "/webhook/axiom"

// Service composes the relay runtime and process lifecycle.
// Params: config snapshot, routes holder, gateway, and HTTP surface.
// Returns: runnable relay service.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	metrics    *metrics.Metrics
	holder     *routes.Holder
	routesOpts routes.LoadOptions
	pipeline   *Pipeline
	handler    http.Handler
	httpSrv    *http.Server
	attach     *axiom.AttachJob
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds relay from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error (config errors are fatal).
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateRelay(cfg); err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Service.Name, cfg.Log)
	if err != nil {
		return nil, err
	}

	service, err := newService(cfg, logger, clk)
	if err != nil {
		closeLog()
		return nil, err
	}
	service.closeLog = closeLog
	return service, nil
}

// newService wires runtime components from an already validated config.
func newService(cfg config.Config, logger *slog.Logger, clk clock.Clock) (*Service, error) {
	opts := routes.LoadOptions{
		IncludeResolved: cfg.Routing.IncludeResolved,
		FallbackChatID:  cfg.Notify.Telegram.ChatID,
		FallbackTopicID: cfg.Notify.Telegram.TopicID,
	}
	snapshot, err := routes.Load(cfg.Routing.File, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("routes loaded", "file", cfg.Routing.File, "name", snapshot.Source(), "fallback", snapshot.IsFallback())

	gateway := notify.NewTelegramGateway(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.APIBase, cfg.Notify.Telegram.Timeout())
	holder := routes.NewHolder(snapshot)

	service := &Service{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics.New(),
		holder:     holder,
		routesOpts: opts,
		pipeline:   NewPipeline(holder, gateway),
		clock:      clk,
	}

	var apiClient *axiom.Client
	if cfg.Axiom.AttachEnabled() || cfg.Axiom.EnrichEnabled() {
		timeout := time.Duration(cfg.Axiom.TimeoutSec) * time.Second
		apiClient = axiom.NewClient(cfg.Axiom.APIBase, cfg.Axiom.QueryBase, cfg.Axiom.MgmtToken, timeout)
	}
	if cfg.Axiom.AttachEnabled() {
		interval := time.Duration(cfg.Axiom.AttachIntervalSec) * time.Second
		service.attach = axiom.NewAttachJob(apiClient, interval, logger)
	}

	service.handler = service.buildRouter(apiClient)
	service.httpSrv = &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           service.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return service, nil
}

// buildRouter wires health, readiness, metrics, and alert endpoints.
// Params: optional log platform client used for enrichment.
// Returns: HTTP handler.
func (s *Service) buildRouter(apiClient *axiom.Client) http.Handler {
	opts := ingest.Options{
		Secret:       s.cfg.HTTP.WebhookSecret,
		MaxBodyBytes: s.cfg.HTTP.MaxBodyBytes,
		Metrics:      s.metrics,
		Logger:       s.logger,
		Now:          s.clock.Now,
	}
	if s.cfg.HTTP.RatePerSec > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(s.cfg.HTTP.RatePerSec), s.cfg.HTTP.RateBurst)
	}
	if s.cfg.Axiom.EnrichEnabled() && apiClient != nil {
		opts.Enricher = axiom.NewEnricher(apiClient, s.cfg.Axiom.Dataset, time.Duration(s.cfg.Axiom.TimeoutSec)*time.Second)
	}
	handler := ingest.NewHandler(s.pipeline, opts)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.metrics.Middleware)

	router.Get(s.cfg.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	router.Get(s.cfg.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	router.Method(http.MethodGet, s.cfg.HTTP.MetricsPath, s.metrics.Handler())

	router.Post(s.cfg.HTTP.MonitorPath, handler.Monitor())
	if s.cfg.HTTP.MonitorPath != legacyMonitorPath {
		router.Post(legacyMonitorPath, handler.Monitor())
	}
	router.Post(s.cfg.HTTP.LocalPath, handler.Local())
	return router
}

// Handler exposes the HTTP surface.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var background sync.WaitGroup
	if s.cfg.Routing.Reload {
		background.Add(1)
		go func() {
			defer background.Done()
			err := routes.Watch(runCtx, s.cfg.Routing.File, s.routesOpts, s.holder, s.logger, s.metrics.RoutesReload)
			if err != nil {
				s.logger.Error("routes watch stopped", "error", err.Error())
			}
		}()
	}
	if s.attach != nil {
		if err := s.attach.Start(runCtx); err != nil {
			s.logger.Error("notifier auto-attach disabled", "error", err.Error())
		} else {
			defer s.attach.Stop()
		}
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		runErr = fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
	}
	cancel()
	background.Wait()
	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown drains HTTP and closes the log sinks.
// Params: none.
// Returns: http shutdown error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}
