package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/notification-service/internal/bootstrap"
	"github.com/jwalitptl/notification-service/internal/cache"
	"github.com/jwalitptl/notification-service/internal/config"
	"github.com/jwalitptl/notification-service/internal/handler/health"
	notificationHandler "github.com/jwalitptl/notification-service/internal/handler/notification"
	"github.com/jwalitptl/notification-service/internal/middleware"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/router"
	notificationService "github.com/jwalitptl/notification-service/internal/service/notification"
	"github.com/jwalitptl/notification-service/pkg/metrics"
	"github.com/jwalitptl/notification-service/pkg/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := bootstrap.Logger(cfg, "notification-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize database
	db, err := bootstrap.Database(ctx, cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	redisClient := bootstrap.Redis(cfg.Redis)
	defer redisClient.Close()

	// Initialize repositories
	base := sqlstore.NewBaseRepository(db, m)
	notificationRepo := sqlstore.NewNotificationRepository(base)
	outboxRepo := sqlstore.NewOutboxRepository(base)

	// Response cache
	var (
		listCache   notificationHandler.ListCache
		invalidator notificationService.Invalidator
	)
	if cfg.Cache.Enabled {
		backend := cache.NewMemoryBackend(cfg.Cache.CleanupInterval)
		if cfg.Cache.Backend == "redis" {
			backend = cache.NewRedisBackend(redisClient)
		}
		responses := cache.New(backend, cfg.Cache.ToCacheConfig(), appLogger.With("response-cache"), m)
		listCache, invalidator = responses, responses
	}

	// Initialize services
	svc := notificationService.NewService(notificationRepo, invalidator, appLogger.With("notification-service"))

	// Rate limiter
	var (
		limiter    middleware.Limiter
		memLimiter *middleware.MemoryLimiter
	)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Backend == "redis" {
			limiter = middleware.NewRedisLimiter(redisClient, "notify-ratelimit:", cfg.RateLimit.Limit, cfg.RateLimit.Window)
		} else {
			memLimiter = middleware.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
			limiter = memLimiter
		}
	}

	// Initialize message broker
	broker, err := bootstrap.Broker(ctx, cfg, redisClient, appLogger)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to message broker")
	}
	defer broker.Close()

	// Setup router
	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	}
	routerConfig := router.RouterConfig{
		Mode:           cfg.Server.Mode,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		CORSConfig:     corsConfig,
		MetricsPath:    cfg.Metrics.Path,
		Limiter:        limiter,
	}
	if cfg.Metrics.Enabled {
		routerConfig.Gatherer = prometheus.DefaultGatherer
	}
	r := router.NewRouter(
		routerConfig,
		m,
		health.NewHandler(svc),
		notificationHandler.NewHandler(svc, listCache),
	)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Outbox relay and cleanup
	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.ToProcessorConfig(),
		appLogger,
		m,
		worker.WithDeadLetter(worker.NotificationDeadLetter(svc, appLogger)),
	)
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, appLogger, m)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		processor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		cleanup.Start(gctx)
		return nil
	})
	if memLimiter != nil {
		g.Go(func() error {
			memLimiter.Run(gctx, cfg.RateLimit.SweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		appLogger.Error(err, "server exited with error")
		os.Exit(1)
	}
	appLogger.Info("server exited properly")
}
