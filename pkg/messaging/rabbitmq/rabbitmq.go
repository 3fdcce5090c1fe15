package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jwalitptl/notification-service/pkg/circuitbreaker"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging"
)

const contentType = "application/json"

type Config struct {
	URL string
	// Prefetch bounds unacknowledged deliveries per subscription.
	Prefetch int
	Breaker  circuitbreaker.Settings
}

// RabbitBroker publishes to durable queues through the default exchange.
// Deliveries are acknowledged once handed to the subscriber.
type RabbitBroker struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	declared map[string]bool
	cb       *circuitbreaker.CircuitBreaker
	logger   *logger.Logger
	config   Config
}

func NewRabbitBroker(config Config, log *logger.Logger) (messaging.Broker, error) {
	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	if config.Breaker.Name == "" {
		config.Breaker.Name = "rabbitmq-broker"
	}
	if log == nil {
		log = logger.Nop()
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating channel: %w", err)
	}

	return &RabbitBroker{
		conn:     conn,
		channel:  ch,
		declared: make(map[string]bool),
		cb:       circuitbreaker.NewCircuitBreaker(config.Breaker),
		logger:   log.With("rabbitmq-broker"),
		config:   config,
	}, nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("error declaring queue '%s': %w", queue, err)
	}
	return nil
}

func (b *RabbitBroker) Publish(ctx context.Context, queue string, message []byte) error {
	return b.cb.Execute(func() error {
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.declared[queue] {
			if err := declare(b.channel, queue); err != nil {
				return err
			}
			b.declared[queue] = true
		}

		return b.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			Body:         message,
		})
	})
}

func (b *RabbitBroker) Subscribe(ctx context.Context, queue string) (<-chan []byte, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("error creating channel: %w", err)
	}
	if err := ch.Qos(b.config.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("error setting prefetch: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("error consuming queue '%s': %w", queue, err)
	}

	msgChan := make(chan []byte)
	go func() {
		defer close(msgChan)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					b.logger.Warn("Delivery channel closed", "queue", queue)
					return
				}
				select {
				case msgChan <- d.Body:
					if err := d.Ack(false); err != nil {
						b.logger.Error(err, "Failed to ack delivery", "queue", queue)
					}
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()

	return msgChan, nil
}

func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			return err
		}
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
