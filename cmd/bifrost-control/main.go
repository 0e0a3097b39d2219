// Package main initializes and runs the Bifrost Control Plane service: the
// admin REST API that manages gray rules and their whitelists.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/controlapi"
	"github.com/rafaeljc/bifrost/internal/database"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/store"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App).With(slog.String("plane", "control"))
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	go database.RunPoolMonitor(ctx, pool, cfg.Database.PoolMonitorInterval)

	client, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	// Every committed mutation is published to the data planes
	invalidator := cache.NewRedisBus(client, cfg.Redis.Channel)
	checkers := []observability.Checker{
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(client, cfg.Redis.Channel),
	}

	skipAuth := cfg.Server.Control.APIKeyHash == ""
	if skipAuth {
		// config.Validate rejects this combination in production.
		log.Warn("admin API authentication disabled: no API key hash configured")
	}

	api := controlapi.NewAPI(store.NewPostgresStore(pool), invalidator, controlapi.Options{
		APIKeyHash:          cfg.Server.Control.APIKeyHash,
		SkipAuth:            skipAuth,
		InvalidationTimeout: cfg.Server.Control.InvalidationTimeout,
		Logger:              log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Control.Address(),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Control.ReadTimeout,
		WriteTimeout:      cfg.Server.Control.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Control.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Control.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.Control.MaxHeaderBytes,
	}

	obs := observability.NewServer(log, &cfg.Observability, checkers...)
	obs.Start()

	errChan := make(chan error, 1)
	go func() {
		log.Info("control plane listening",
			slog.String("addr", srv.Addr),
			slog.Bool("tls", cfg.Server.Control.TLSEnabled))

		var err error
		if cfg.Server.Control.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.Control.TLSCert, cfg.Server.Control.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control plane server failed: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping servers")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.Info("service exited successfully")
	return nil
}
