package config

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notification-service/internal/cache"
	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/service/analysis"
	"github.com/jwalitptl/notification-service/pkg/circuitbreaker"
	"github.com/jwalitptl/notification-service/pkg/logger"
	redisbroker "github.com/jwalitptl/notification-service/pkg/messaging/redis"
	"github.com/jwalitptl/notification-service/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/notification-service/pkg/worker"
)

func (d DatabaseConfig) ToDBOptions() sqlstore.Options {
	return sqlstore.Options{
		Driver:          d.Driver,
		DSN:             d.DSN(),
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

func (c *RedisConfig) ToClientOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}

func (c *QueueConfig) breakerSettings() circuitbreaker.Settings {
	return circuitbreaker.Settings{
		Name:        c.Driver + "-broker",
		MaxFailures: c.BreakerMaxFailures,
		Timeout:     c.BreakerTimeout,
	}
}

func (c *QueueConfig) ToBrokerConfig() redisbroker.Config {
	return redisbroker.Config{
		KeyPrefix:    c.KeyPrefix,
		BlockTimeout: c.BlockTimeout,
		Breaker:      c.breakerSettings(),
	}
}

func (c *QueueConfig) ToRabbitConfig(prefetch int) rabbitmq.Config {
	return rabbitmq.Config{
		URL:      c.RabbitMQURL,
		Prefetch: prefetch,
		Breaker:  c.breakerSettings(),
	}
}

func (c *Config) ToProcessorConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		Routes:        map[string]string{model.EventTypeAnalyze: c.Queue.Name},
		BatchSize:     c.Outbox.BatchSize,
		PollInterval:  c.Outbox.PollInterval,
		RetryAttempts: c.Outbox.RetryAttempts,
		RetryDelay:    c.Outbox.RetryDelay,
		MaxDeliveries: c.Outbox.MaxDeliveries,
	}
}

func (c *Config) ToAnalysisWorkerConfig() worker.AnalysisWorkerConfig {
	return worker.AnalysisWorkerConfig{
		Queue:         c.Queue.Name,
		Concurrency:   c.Analysis.Concurrency,
		HandleTimeout: c.Analysis.HandleTimeout,
	}
}

func (c *AnalysisConfig) ToAnalyzerConfig() analysis.Config {
	return analysis.Config{
		MinDelay:      c.MinDelay,
		MaxDelay:      c.MaxDelay,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
	}
}

func (c *CacheConfig) ToCacheConfig() cache.Config {
	return cache.Config{
		Prefix:    c.Prefix,
		Namespace: c.Namespace,
		TTL:       c.TTL,
	}
}

func (c *LogConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      logger.ParseLevel(c.Level),
		Format:     c.Format,
		TimeFormat: time.RFC3339Nano,
	}
}
