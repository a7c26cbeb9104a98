package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"statusbridge/internal/cachet"
	"statusbridge/internal/clock"
	"statusbridge/internal/config"
	"statusbridge/internal/ingest"
	"statusbridge/internal/logging"
	"statusbridge/internal/notify"
)

// Service composes runtime dependencies and process lifecycle.
// Params: validated config and shared runtime components.
// Returns: runnable status-bridge service.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	manager  *Manager
	stats    *ingest.Stats
	httpSrv  *http.Server
	natsSub  interface{ Close() error }
	clock    clock.Clock
}

// NewService builds a service instance from configuration.
// Params: validated config and clock implementation.
// Returns: initialized service or setup error.
func NewService(cfg config.Config, clk clock.Clock) (*Service, error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	backend := cachet.New(cfg.Backend, logger)
	stats := &ingest.Stats{}

	var notifier notify.Notifier
	if cfg.Notify.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Notify.Telegram)
	}

	manager := NewManager(logger, backend, cfg.Incident, stats, notifier)

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		manager:  manager,
		stats:    stats,
		clock:    clk,
	}
	service.buildHTTPServer()

	if cfg.Service.Mode == config.ServiceModeNATS {
		subscriber, err := ingest.NewNATSSubscriber(cfg.Ingest.NATS, manager, logger)
		if err != nil {
			closeLog()
			return nil, err
		}
		service.natsSub = subscriber
	}

	return service, nil
}

// buildHTTPServer assembles the ingest HTTP surface.
// Params: none.
// Returns: HTTP server stored on the service.
func (s *Service) buildHTTPServer() {
	httpCfg := s.cfg.Ingest.HTTP
	mux := http.NewServeMux()
	mux.Handle(httpCfg.WebhookPath, ingest.NewWebhookHandler(
		s.manager,
		s.stats,
		httpCfg.AuthUsername,
		httpCfg.AuthPassword,
		httpCfg.MaxBodyBytes,
		s.logger,
	))
	mux.Handle(httpCfg.HealthPath, ingest.HealthHandler(s.cfg.Service.Name))
	mux.Handle(httpCfg.StatusPath, ingest.StatusHandler(s.stats, s.clock.Now(), s.clock))

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	defer s.closeLog()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen, "mode", s.cfg.Service.Mode)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	case sig := <-sigChan:
		s.logger.Info("signal received, shutting down", "signal", sig.String())
	case err := <-errChan:
		s.logger.Error("http server failed", "error", err.Error())
		s.shutdown()
		return err
	}

	s.shutdown()
	return nil
}

// shutdown stops ingest interfaces, letting in-flight handling finish cleanly.
// Params: none.
// Returns: none. No state reconciliation is needed: recomputation is pure and
// idempotent and self-corrects on the next delivery.
func (s *Service) shutdown() {
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Warn("nats subscriber close failed", "error", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown failed", "error", err.Error())
	}
}
