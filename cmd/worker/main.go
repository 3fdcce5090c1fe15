package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/notification-service/internal/bootstrap"
	"github.com/jwalitptl/notification-service/internal/cache"
	"github.com/jwalitptl/notification-service/internal/config"
	"github.com/jwalitptl/notification-service/internal/handler/health"
	"github.com/jwalitptl/notification-service/internal/middleware"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/service/analysis"
	notificationService "github.com/jwalitptl/notification-service/internal/service/notification"
	"github.com/jwalitptl/notification-service/pkg/metrics"
	"github.com/jwalitptl/notification-service/pkg/worker"
)

func healthServer(cfg *config.Config, pinger health.Pinger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery())

	health.NewHandler(pinger).RegisterRoutes(engine)
	if cfg.Metrics.Enabled {
		engine.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.HealthPort),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := bootstrap.Logger(cfg, "notification-worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize database
	db, err := bootstrap.Database(ctx, cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	redisClient := bootstrap.Redis(cfg.Redis)
	defer redisClient.Close()

	broker, err := bootstrap.Broker(ctx, cfg, redisClient, appLogger)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to message broker")
	}
	defer broker.Close()

	// The worker shares the api's cache so that finished analyses invalidate listings.
	var invalidator notificationService.Invalidator
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
		invalidator = cache.New(cache.NewRedisBackend(redisClient), cfg.Cache.ToCacheConfig(), appLogger.With("response-cache"), m)
	}

	base := sqlstore.NewBaseRepository(db, m)
	svc := notificationService.NewService(
		sqlstore.NewNotificationRepository(base),
		invalidator,
		appLogger.With("notification-service"),
	)

	analysisWorker := worker.NewAnalysisWorker(
		broker,
		svc,
		analysis.NewAnalyzer(cfg.Analysis.ToAnalyzerConfig()),
		cfg.ToAnalysisWorkerConfig(),
		appLogger,
		m,
	)

	srv := healthServer(cfg, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Health check server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health check server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return analysisWorker.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error(err, "Worker exited with error")
		os.Exit(1)
	}
	appLogger.Info("Worker stopped")
}
