package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/service/analysis"
	"github.com/jwalitptl/notification-service/internal/service/notification"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

// AnalysisService is the part of the lifecycle service the worker drives.
type AnalysisService interface {
	BeginAnalysis(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	CompleteAnalysis(ctx context.Context, id uuid.UUID, category model.Category, confidence float64) (*model.Notification, error)
	FailAnalysis(ctx context.Context, id uuid.UUID, reason string) (*model.Notification, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, text string) (*analysis.Result, error)
}

type AnalysisWorkerConfig struct {
	Queue       string
	Concurrency int
	// HandleTimeout bounds one message, including the simulated latency.
	// A message in flight at shutdown runs to completion within it.
	HandleTimeout time.Duration
}

const (
	dropMalformed  = "malformed"
	dropNotFound   = "not_found"
	dropDuplicate  = "duplicate"
	dropStoreError = "store_error"
)

type AnalysisWorker struct {
	broker   messaging.Broker
	service  AnalysisService
	analyzer Analyzer
	config   AnalysisWorkerConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewAnalysisWorker(
	broker messaging.Broker,
	service AnalysisService,
	analyzer Analyzer,
	config AnalysisWorkerConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *AnalysisWorker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.HandleTimeout <= 0 {
		config.HandleTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &AnalysisWorker{
		broker:   broker,
		service:  service,
		analyzer: analyzer,
		config:   config,
		logger:   log.With("analysis-worker"),
		metrics:  m,
	}
}

// Run consumes the analysis queue with Concurrency consumers until ctx is done.
func (w *AnalysisWorker) Run(ctx context.Context) error {
	msgs, err := w.broker.Subscribe(ctx, w.config.Queue)
	if err != nil {
		return err
	}

	w.logger.Info("Starting analysis worker", "queue", w.config.Queue, "concurrency", w.config.Concurrency)

	var g errgroup.Group
	for i := 0; i < w.config.Concurrency; i++ {
		g.Go(func() error {
			for msg := range msgs {
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.HandleTimeout)
				w.Handle(hctx, msg)
				cancel()
			}
			return nil
		})
	}
	err = g.Wait()

	w.logger.Info("Analysis worker stopped")
	return err
}

// Handle analyses the notification named by one queue message. Failures are
// logged and the message is not retried.
func (w *AnalysisWorker) Handle(ctx context.Context, msg []byte) {
	var task model.AnalysisTask
	if err := json.Unmarshal(msg, &task); err != nil || task.NotificationID == uuid.Nil {
		w.drop(dropMalformed, "Dropping malformed message", "message", string(msg))
		return
	}
	id := task.NotificationID

	n, err := w.service.BeginAnalysis(ctx, id)
	switch {
	case apperrors.Is(err, apperrors.KindNotFound):
		w.drop(dropNotFound, "Dropping message for unknown notification", "notification_id", id.String())
		return
	case errors.Is(err, notification.ErrTransitionRejected):
		w.drop(dropDuplicate, "Dropping message for notification already analysed", "notification_id", id.String())
		return
	case err != nil:
		w.metrics.MessagesDropped.WithLabelValues(dropStoreError).Inc()
		w.logger.Error(err, "Failed to claim notification, message lost", "notification_id", id.String())
		return
	}

	w.metrics.WorkersInFlight.Inc()
	defer w.metrics.WorkersInFlight.Dec()
	timer := prometheus.NewTimer(w.metrics.AnalysisLatency)
	defer timer.ObserveDuration()

	result, err := w.analyzer.Analyze(ctx, n.Title+"\n"+n.Body)
	if err != nil {
		w.metrics.AnalysisResults.WithLabelValues("failed", "").Inc()
		if _, ferr := w.service.FailAnalysis(ctx, id, err.Error()); ferr != nil {
			w.logger.Error(ferr, "Failed to record analysis failure", "notification_id", id.String())
		}
		return
	}

	if _, err := w.service.CompleteAnalysis(ctx, id, result.Category, result.Confidence); err != nil {
		w.metrics.AnalysisResults.WithLabelValues("lost", string(result.Category)).Inc()
		w.logger.Error(err, "Failed to store analysis result, message lost",
			"notification_id", id.String(),
			"category", string(result.Category))
		return
	}

	w.metrics.AnalysisResults.WithLabelValues("completed", string(result.Category)).Inc()
	w.logger.Info("Notification analysed",
		"notification_id", id.String(),
		"category", string(result.Category),
		"confidence", result.Confidence,
		"keywords", result.Keywords)
}

func (w *AnalysisWorker) drop(reason, msg string, fields ...interface{}) {
	w.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	w.logger.Warn(msg, fields...)
}

// NotificationDeadLetter fails the notification behind an analysis event the
// outbox gave up on, so it does not stay pending forever.
func NotificationDeadLetter(svc AnalysisService, log *logger.Logger) DeadLetterFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, event *model.OutboxEvent, cause string) {
		if event.EventType != model.EventTypeAnalyze {
			return
		}
		var task model.AnalysisTask
		if err := json.Unmarshal(event.Payload, &task); err != nil {
			log.Error(err, "Undecodable analysis event", "event_id", event.ID.String())
			return
		}
		_, err := svc.FailAnalysis(ctx, task.NotificationID, "queue hand-off failed: "+cause)
		if err != nil && !errors.Is(err, notification.ErrTransitionRejected) {
			log.Error(err, "Failed to fail notification after undeliverable event",
				"event_id", event.ID.String(),
				"notification_id", task.NotificationID.String())
		}
	}
}
