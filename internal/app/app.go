// Package app wires configuration, storage and the HTTP API into a
// runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vurakit/lexveil/internal/auth"
	"github.com/vurakit/lexveil/internal/config"
	"github.com/vurakit/lexveil/internal/detector"
	"github.com/vurakit/lexveil/internal/extract"
	"github.com/vurakit/lexveil/internal/history"
	"github.com/vurakit/lexveil/internal/processor"
	"github.com/vurakit/lexveil/internal/ratelimit"
	"github.com/vurakit/lexveil/internal/server"
	"github.com/vurakit/lexveil/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// App is a fully wired service
type App struct {
	cfg      *config.Manager
	logger   *slog.Logger
	redis    *redis.Client
	history  *history.Store
	webhooks *webhook.Dispatcher
	limiter  *ratelimit.Limiter
	handler  http.Handler
}

// New builds the service from the loaded configuration. History is
// disabled, with a warning, when Redis cannot be reached. With auth enabled
// an unreachable Redis is an error.
func New(ctx context.Context, mgr *config.Manager, logger *slog.Logger) (*App, error) {
	cfg := mgr.Config()

	detCfg, err := cfg.DetectorConfig()
	if err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	proc := processor.New(detector.NewWithConfig(detCfg),
		processor.WithLogger(logger),
		processor.WithSource("api"),
	)

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return nil, fmt.Errorf("max upload size: %w", err)
	}
	ext := extract.New(
		extract.WithMaxSize(maxUpload),
		extract.WithPDFToText(cfg.Extract.PDFToText),
		extract.WithTimeout(cfg.Extract.Timeout),
	)
	if !ext.Available()[extract.TypePDF] {
		logger.Warn("pdftotext not found, PDF uploads are disabled", "binary", cfg.Extract.PDFToText)
	}

	a := &App{cfg: mgr, logger: logger}

	var keys *auth.Manager
	if cfg.History.Enabled || cfg.Auth.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()

		switch {
		case err != nil && cfg.Auth.Enabled:
			client.Close()
			return nil, fmt.Errorf("auth requires redis at %s: %w", cfg.Redis.Addr, err)
		case err != nil:
			logger.Warn("Redis not available, running without history", "addr", cfg.Redis.Addr, "error", err)
			client.Close()
		default:
			logger.Info("Redis connected", "addr", cfg.Redis.Addr)
			a.redis = client
		}
	}

	if a.redis != nil && cfg.History.Enabled {
		a.history = history.NewWithClient(a.redis)
		a.history.SetTTL(cfg.History.TTL)
		a.history.SetMaxEntries(cfg.History.MaxEntries)
	}
	if a.redis != nil && cfg.Auth.Enabled {
		keys = auth.NewManager(a.redis)
		keys.SetLogger(logger)
		logger.Info("API key authentication enabled")
	}

	if mgr.File() != "" {
		mgr.Watch(logger, func(c *config.Config) {
			logger.Info("default anonymization options updated",
				"person_name", c.Anonymization.PersonName,
				"tax_id", c.Anonymization.TaxID,
			)
		})
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithDefaults(func() processor.Options { return mgr.Config().Anonymization }),
	}
	if a.history != nil {
		opts = append(opts, server.WithHistory(a.history))
	}
	if keys != nil {
		opts = append(opts, server.WithAuth(keys))
	}
	if len(cfg.Webhooks.Destinations) > 0 {
		a.webhooks = webhook.NewDispatcher(cfg.Webhooks.DispatcherConfig(), logger)
		opts = append(opts, server.WithWebhooks(a.webhooks))
		logger.Info("webhooks enabled", "destinations", len(cfg.Webhooks.Destinations))
	}
	srv := server.New(proc, ext, opts...)

	a.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	a.handler = a.limiter.Middleware(srv.Handler())
	return a, nil
}

// Handler returns the rate-limited HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg.Config().Server
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("lexveil listening", "addr", cfg.Addr)
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			a.logger.Info("TLS enabled", "cert", cfg.TLSCert)
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.Close()
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("shutdown error", "error", err)
	}
	a.Close()
	a.logger.Info("stopped")
	return err
}

// Close flushes pending webhooks and releases the rate limiter and the
// Redis connection.
func (a *App) Close() {
	if a.webhooks != nil {
		a.webhooks.Close()
	}
	a.limiter.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", "error", err)
		}
	}
}
