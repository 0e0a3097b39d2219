// Package main initializes and runs the Bifrost Data Plane service.
//
// It acts as the composition root for the decision listeners: HTTP for the
// proxy sub-request and gRPC for services.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthgrpc "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/dataapi"
	"github.com/rafaeljc/bifrost/internal/database"
	"github.com/rafaeljc/bifrost/internal/decision"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/store"
	"github.com/rafaeljc/bifrost/internal/syncer"
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
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App).With(slog.String("plane", "data"))
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	client, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	bus := cache.NewRedisBus(client, cfg.Redis.Channel)
	checkers := []observability.Checker{
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(client, cfg.Redis.Channel),
	}

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	repo := store.NewPostgresStore(pool)

	decisionCache, err := cache.NewDecisionCache(cfg.Decision.CacheTTL, cfg.Decision.WhitelistCapacity)
	if err != nil {
		return fmt.Errorf("failed to build decision cache: %w", err)
	}
	defer decisionCache.Close()

	svc := decision.NewService(repo, decisionCache, ruleengine.New(log), cfg.Decision.StoreTimeout)

	httpAPI := dataapi.NewHTTPAPI(svc, log, dataapi.Options{
		RequestTimeout: cfg.Decision.RequestTimeout,
		FailOpen:       cfg.Decision.FailOpen,
		ServiceName:    cfg.App.Name,
	})
	grpcAPI := dataapi.NewGRPCAPI(svc, cfg.Decision.RequestTimeout)

	// -------------------------------------------------------------------------
	// 4. Servers
	// -------------------------------------------------------------------------
	httpServer := &http.Server{
		Addr:              cfg.Server.Data.HTTPAddress(),
		Handler:           httpAPI.Router,
		ReadTimeout:       cfg.Server.Data.ReadTimeout,
		WriteTimeout:      cfg.Server.Data.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Data.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Data.IdleTimeout,
	}

	// Create the TCP listener first (Fail Fast)
	listener, err := net.Listen("tcp", cfg.Server.Data.GRPCAddress())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", cfg.Server.Data.GRPCAddress(), err)
	}

	opts := append(dataapi.ServerOptions(log),
		grpc.MaxConcurrentStreams(cfg.Server.Data.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:             cfg.Server.Data.KeepaliveTime,
			Timeout:          cfg.Server.Data.KeepaliveTimeout,
			MaxConnectionAge: cfg.Server.Data.MaxConnectionAge,
		}),
	)
	grpcServer := grpc.NewServer(opts...)
	grpcAPI.Register(grpcServer)

	healthServer := healthgrpc.NewServer()
	healthServer.SetServingStatus(dataapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable Server Reflection for grpcurl and friends.
	reflection.Register(grpcServer)

	obs := observability.NewServer(log, &cfg.Observability, checkers...)
	obs.Start()

	// -------------------------------------------------------------------------
	// 5. Run
	// -------------------------------------------------------------------------
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("grpc server listening", slog.String("addr", listener.Addr().String()))
		if err := grpcServer.Serve(listener); err != nil {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		database.RunPoolMonitor(gctx, pool, cfg.Database.PoolMonitorInterval)
		return nil
	})

	// Invalidation subscriber
	g.Go(func() error { return bus.Subscribe(gctx, decisionCache) })

	if cfg.Syncer.Enabled {
		worker := syncer.New(log, syncer.Config{Interval: cfg.Syncer.Interval}, svc)
		g.Go(func() error { return worker.Run(gctx) })
	}

	// -------------------------------------------------------------------------
	// 6. Graceful Shutdown
	// -------------------------------------------------------------------------
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		healthServer.Shutdown()
		stopGRPC(shutdownCtx, grpcServer)

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := obs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("service exited successfully")
	return nil
}

// stopGRPC drains in-flight RPCs, forcing the stop once ctx expires.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
	}
}
