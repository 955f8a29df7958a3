// Package main provides the entry point for the resource-lock server.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kneutral-org/resource-lock/internal/binding"
	"github.com/kneutral-org/resource-lock/internal/bootstrap"
	"github.com/kneutral-org/resource-lock/internal/config"
	"github.com/kneutral-org/resource-lock/internal/grpcserver"
	"github.com/kneutral-org/resource-lock/internal/interceptor"
	"github.com/kneutral-org/resource-lock/internal/invoice"
	"github.com/kneutral-org/resource-lock/internal/lock"
	"github.com/kneutral-org/resource-lock/internal/logging"
	"github.com/kneutral-org/resource-lock/internal/metrics"
	"github.com/kneutral-org/resource-lock/internal/tracing"
)

const serviceName = "resource-lock"

func main() {
	cfg := config.Load()
	logger := logging.New(serviceName, cfg.LogLevel, cfg.LogPretty)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	shutdownTracing, err := tracing.Setup(serviceName, cfg.TraceExporter)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	store, err := bootstrap.OpenStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open lock store")
	}

	var cleanup *lock.CleanupJob
	if store.Cleaner != nil {
		cleanup = lock.NewCleanupJob(store.Cleaner, cfg.CleanupInterval, logger,
			lock.WithCleanupReporter(metrics.RecordLockStoreCleanup))
		cleanup.Start(context.Background())
	}

	manager := bootstrap.NewManager(store, cfg, logger)

	table := binding.NewTable().
		MustRegister(invoice.Unit, invoice.Binding())
	if err := grpcserver.RegisterBindings(table); err != nil {
		logger.Fatal().Err(err).Msg("failed to register gRPC lock bindings")
	}

	ic := interceptor.New(manager, table,
		interceptor.WithLogger(logger),
		interceptor.WithReleaseTimeout(cfg.ReleaseTimeout),
	)
	generator := invoice.NewGenerator(cfg.InvoiceWorkDuration, logger)

	// Setup Gin router
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(metrics.HTTPMetrics())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "lockStore": cfg.LockStore})
	})
	metrics.RegisterMetricsEndpoint(router)

	invoice.NewHandler(generator, ic, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.InvoiceWorkDuration + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcSrv, healthSrv := grpcserver.NewServer(grpcserver.Config{MaxMessageSize: cfg.GRPCMaxMessageSize}, ic, generator, logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("failed to listen for gRPC")
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	go func() {
		logger.Info().Str("port", cfg.GRPCPort).Msg("starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Fatal().Err(err).Msg("failed to start gRPC server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	healthSrv.SetServingStatus(grpcserver.InvoicesServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Graceful shutdown with timeout; in-flight work releases its locks on the way out.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	grpcSrv.GracefulStop()

	shutdown(ctx, logger, cleanup, store, shutdownTracing)
	logger.Info().Msg("server exited properly")
}

func shutdown(ctx context.Context, logger zerolog.Logger, cleanup *lock.CleanupJob, store *bootstrap.Store, shutdownTracing tracing.ShutdownFunc) {
	if cleanup != nil {
		cleanup.Stop()
	}
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close lock store")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}
}
