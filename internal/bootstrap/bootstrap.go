// Package bootstrap builds the dependencies shared by the api and worker
// binaries from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/notification-service/internal/config"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging"
	"github.com/jwalitptl/notification-service/pkg/messaging/rabbitmq"
	redisbroker "github.com/jwalitptl/notification-service/pkg/messaging/redis"
	"github.com/jwalitptl/notification-service/pkg/migration"
)

// Logger builds the application logger and installs it as zerolog's global
// logger, which the HTTP middleware writes to.
func Logger(cfg *config.Config, service string) *logger.Logger {
	l := logger.NewLogger(cfg.Log.ToLoggerConfig()).WithFields(map[string]interface{}{
		"service": service,
	})
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	log.Logger = l.Zerolog()
	return l
}

// Database connects and, when enabled, applies pending migrations.
func Database(ctx context.Context, cfg config.DatabaseConfig, l *logger.Logger) (*sqlx.DB, error) {
	db, err := sqlstore.NewDB(ctx, cfg.ToDBOptions())
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := migration.Up(db); err != nil {
			db.Close()
			return nil, err
		}
		l.Info("Database migrations applied", "driver", cfg.Driver)
	}
	return db, nil
}

func Redis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(cfg.ToClientOptions())
}

// Broker connects the configured task queue. The redis broker reuses client.
func Broker(ctx context.Context, cfg *config.Config, client redis.UniversalClient, l *logger.Logger) (messaging.Broker, error) {
	switch cfg.Queue.Driver {
	case "redis":
		return redisbroker.NewRedisBroker(ctx, client, cfg.Queue.ToBrokerConfig(), l)
	case "rabbitmq":
		return rabbitmq.NewRabbitBroker(cfg.Queue.ToRabbitConfig(cfg.Analysis.Concurrency), l)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
	}
}
