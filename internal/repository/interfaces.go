package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-service/internal/model"
)

var (
	// ErrNotFound is returned when no row matches the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps connection-level failures of the backing store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrStaleTransition is returned by a conditional status update when the
	// row exists but is no longer in one of the expected statuses.
	ErrStaleTransition = errors.New("processing status changed concurrently")
)

// All repository interfaces in one file
type (
	NotificationRepository interface {
		// Create inserts n together with its outbox events in one transaction.
		Create(ctx context.Context, n *model.Notification, events ...*model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		List(ctx context.Context, filter model.ListFilter) ([]*model.Notification, error)
		// MarkRead sets read_at to at unless it is already set and returns the stored row.
		MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (*model.Notification, error)
		UpdateProcessing(ctx context.Context, id uuid.UUID, upd model.ProcessingUpdate) (*model.Notification, error)
		Ping(ctx context.Context) error
	}

	OutboxRepository interface {
		// ProcessBatch claims up to limit deliverable events and runs fn inside
		// the claiming transaction. Status changes made through the Tx are
		// committed together.
		ProcessBatch(ctx context.Context, limit int, fn func(tx OutboxTx, events []*model.OutboxEvent) error) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// OutboxTx updates event rows inside a ProcessBatch transaction.
	OutboxTx interface {
		MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
		MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error
	}
)
