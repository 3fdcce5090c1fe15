package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func insertOutboxEvent(ctx context.Context, tx *sqlx.Tx, evt *model.OutboxEvent) error {
	if evt == nil || evt.Payload == nil {
		return fmt.Errorf("outbox event payload cannot be nil")
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.Status == "" {
		evt.Status = model.OutboxStatusPending
	}
	evt.CreatedAt = dbTime(evt.CreatedAt)
	evt.UpdatedAt = dbTime(evt.UpdatedAt)

	query := tx.Rebind(`
		INSERT INTO outbox_events (
			id, event_type, payload, status, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := tx.ExecContext(ctx, query,
		evt.ID,
		evt.EventType,
		string(evt.Payload),
		evt.Status,
		evt.RetryCount,
		evt.CreatedAt,
		evt.UpdatedAt,
	)
	if err != nil {
		return wrapErr("create outbox event", err)
	}
	return nil
}

func (r *outboxRepository) ProcessBatch(ctx context.Context, limit int, fn func(tx repository.OutboxTx, events []*model.OutboxEvent) error) (err error) {
	start := time.Now()
	defer func() { r.observe("outbox_process_batch", start, err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			SELECT id, event_type, payload, status, error_message, retry_count,
				created_at, updated_at, processed_at
			FROM outbox_events
			WHERE status IN ('pending', 'retry')
			ORDER BY created_at ASC
			LIMIT ?`
		// sqlite has no row locks; its single writer already serialises relays.
		if r.db.DriverName() == "postgres" {
			query += ` FOR UPDATE SKIP LOCKED`
		}

		var events []*model.OutboxEvent
		if err := tx.SelectContext(ctx, &events, tx.Rebind(query), limit); err != nil {
			return wrapErr("select pending outbox events", err)
		}
		if len(events) == 0 {
			return nil
		}
		return fn(&outboxTx{tx: tx}, events)
	})
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (_ int64, err error) {
	start := time.Now()
	defer func() { r.observe("outbox_cleanup", start, err) }()

	query := r.db.Rebind(`
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < ?
	`)
	result, err := r.db.ExecContext(ctx, query, dbTime(before))
	if err != nil {
		return 0, wrapErr("delete processed events", err)
	}

	return result.RowsAffected()
}

type outboxTx struct {
	tx *sqlx.Tx
}

func (o *outboxTx) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	at = dbTime(at)
	query := o.tx.Rebind(`
		UPDATE outbox_events
		SET status = ?, error_message = NULL, processed_at = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := o.tx.ExecContext(ctx, query, model.OutboxStatusProcessed, at, at, id)
	return wrapErr("mark outbox event processed", err)
}

func (o *outboxTx) MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	query := o.tx.Rebind(`
		UPDATE outbox_events
		SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
	`)
	_, err := o.tx.ExecContext(ctx, query, model.OutboxStatusRetry, errMsg, dbTime(at), id)
	return wrapErr("mark outbox event for retry", err)
}

func (o *outboxTx) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	query := o.tx.Rebind(`
		UPDATE outbox_events
		SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
	`)
	_, err := o.tx.ExecContext(ctx, query, model.OutboxStatusFailed, errMsg, dbTime(at), id)
	return wrapErr("mark outbox event failed", err)
}
