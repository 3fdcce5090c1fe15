package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notification-service/pkg/circuitbreaker"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging"
)

// RedisBroker implements queues as redis lists: LPUSH to publish, BRPOP to
// consume.
type RedisBroker struct {
	client redis.UniversalClient
	cb     *circuitbreaker.CircuitBreaker
	logger *logger.Logger
	config Config
}

type Config struct {
	KeyPrefix    string
	BlockTimeout time.Duration
	RetryBackoff time.Duration
	BufferSize   int
	Breaker      circuitbreaker.Settings
}

func NewRedisBroker(ctx context.Context, client redis.UniversalClient, config Config, log *logger.Logger) (messaging.Broker, error) {
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.Breaker.Name == "" {
		config.Breaker.Name = "redis-broker"
	}
	if log == nil {
		log = logger.Nop()
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroker{
		client: client,
		cb:     circuitbreaker.NewCircuitBreaker(config.Breaker),
		logger: log.With("redis-broker"),
		config: config,
	}, nil
}

func (b *RedisBroker) key(queue string) string {
	return b.config.KeyPrefix + queue
}

func (b *RedisBroker) Publish(ctx context.Context, queue string, message []byte) error {
	return b.cb.Execute(func() error {
		return b.client.LPush(ctx, b.key(queue), message).Err()
	})
}

func (b *RedisBroker) Subscribe(ctx context.Context, queue string) (<-chan []byte, error) {
	msgChan := make(chan []byte, b.config.BufferSize)
	key := b.key(queue)

	go func() {
		defer close(msgChan)

		for ctx.Err() == nil {
			res, err := b.client.BRPop(ctx, b.config.BlockTimeout, key).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				b.logger.Error(err, "Failed to receive message", "queue", queue)
				select {
				case <-ctx.Done():
					return
				case <-time.After(b.config.RetryBackoff):
				}
				continue
			}

			// res is [key, value].
			msg := []byte(res[1])
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				b.requeue(key, msg)
				return
			}
		}
	}()

	return msgChan, nil
}

// requeue puts a message that was popped but never handed out back at the
// consuming end of the list.
func (b *RedisBroker) requeue(key string, msg []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.BlockTimeout)
	defer cancel()
	if err := b.client.RPush(ctx, key, msg).Err(); err != nil {
		b.logger.Error(err, "Failed to requeue message", "queue", key)
	}
}

// Close leaves the client open; it is owned by the caller.
func (b *RedisBroker) Close() error {
	return nil
}
