package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

type OutboxProcessorConfig struct {
	// Routes maps an event type to the queue it is published on.
	Routes        map[string]string
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxDeliveries is the number of failed polls after which an event is
	// given up on.
	MaxDeliveries int
}

// DeadLetterFunc is called for every event marked failed, after the batch
// that failed it has committed.
type DeadLetterFunc func(ctx context.Context, event *model.OutboxEvent, cause string)

type ProcessorOption func(*OutboxProcessor)

func WithDeadLetter(fn DeadLetterFunc) ProcessorOption {
	return func(p *OutboxProcessor) { p.onDeadLetter = fn }
}

// OutboxProcessor relays outbox events to the message broker. Delivery is at
// least once: an event whose status update is rolled back is published again
// on the next poll.
type OutboxProcessor struct {
	repo         repository.OutboxRepository
	broker       messaging.Broker
	config       OutboxProcessorConfig
	logger       *logger.Logger
	metrics      *metrics.Metrics
	onDeadLetter DeadLetterFunc
	now          func() time.Time
}

type deadLetter struct {
	event *model.OutboxEvent
	cause string
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
	opts ...ProcessorOption,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay < 0 {
		panic("RetryDelay must not be negative")
	}
	if config.MaxDeliveries <= 0 {
		panic("MaxDeliveries must be greater than 0")
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	p := &OutboxProcessor{
		repo:         repo,
		broker:       broker,
		config:       config,
		logger:       log.With("outbox-processor"),
		metrics:      m,
		onDeadLetter: func(context.Context, *model.OutboxEvent, string) {},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessPending relays one batch and returns how many events it settled.
func (p *OutboxProcessor) ProcessPending(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	var (
		settled int
		dead    []deadLetter
	)
	err := p.repo.ProcessBatch(ctx, p.config.BatchSize, func(tx repository.OutboxTx, events []*model.OutboxEvent) error {
		for _, event := range events {
			dl, err := p.processEvent(ctx, tx, event)
			if err != nil {
				return err
			}
			if dl != nil {
				dead = append(dead, *dl)
			}
			settled++
		}
		return nil
	})
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("process_outbox_batch", "error").Inc()
		return 0, fmt.Errorf("failed to process outbox batch: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("process_outbox_batch", "success").Inc()

	// Hooks write through their own connections, so they run after commit.
	for _, dl := range dead {
		p.onDeadLetter(ctx, dl.event, dl.cause)
	}
	return settled, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, tx repository.OutboxTx, event *model.OutboxEvent) (*deadLetter, error) {
	queue, ok := p.config.Routes[event.EventType]
	if !ok {
		cause := "no queue configured for event type " + event.EventType
		if err := tx.MarkFailed(ctx, event.ID, cause, p.now()); err != nil {
			return nil, err
		}
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(nil, "Dropping unroutable event", "event_id", event.ID.String(), "event_type", event.EventType)
		return &deadLetter{event: event, cause: cause}, nil
	}

	publishErr := p.publish(ctx, queue, event)
	now := p.now()

	if publishErr == nil {
		if err := tx.MarkProcessed(ctx, event.ID, now); err != nil {
			return nil, err
		}
		p.metrics.OutboxEventsProcessed.Inc()
		return nil, nil
	}

	p.metrics.OutboxEventsFailed.Inc()
	cause := publishErr.Error()

	if event.RetryCount+1 >= p.config.MaxDeliveries {
		if err := tx.MarkFailed(ctx, event.ID, cause, now); err != nil {
			return nil, err
		}
		p.logger.Error(publishErr, "Giving up on event",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"deliveries", event.RetryCount+1)
		return &deadLetter{event: event, cause: cause}, nil
	}

	if err := tx.MarkRetry(ctx, event.ID, cause, now); err != nil {
		return nil, err
	}
	p.logger.Warn("Failed to publish event, will retry",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"error", cause)
	return nil, nil
}

func (p *OutboxProcessor) publish(ctx context.Context, queue string, event *model.OutboxEvent) error {
	return retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func(attempt int) error {
		if attempt > 0 {
			p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		}
		return p.broker.Publish(ctx, queue, event.Payload)
	})
}

// retry calls fn up to attempts times, sleeping delay between calls.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
		}
	}
	return err
}
