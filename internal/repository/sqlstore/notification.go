package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
)

const notificationColumns = `
	id, owner_id, title, body, created_at, read_at,
	category, confidence, processing_status`

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification, events ...*model.OutboxEvent) (err error) {
	start := time.Now()
	defer func() { r.observe("notification_create", start, err) }()

	n.CreatedAt = dbTime(n.CreatedAt)

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO notifications (
				id, owner_id, title, body, created_at, read_at,
				category, confidence, processing_status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		_, err := tx.ExecContext(ctx, query,
			n.ID,
			n.OwnerID,
			n.Title,
			n.Body,
			n.CreatedAt,
			n.ReadAt,
			n.Category,
			n.Confidence,
			n.ProcessingStatus,
		)
		if err != nil {
			return wrapErr("create notification", err)
		}

		for _, evt := range events {
			if err := insertOutboxEvent(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (n *model.Notification, err error) {
	start := time.Now()
	defer func() { r.observe("notification_get", start, err) }()

	return getNotification(ctx, r.db, id)
}

func (r *notificationRepository) List(ctx context.Context, filter model.ListFilter) (_ []*model.Notification, err error) {
	start := time.Now()
	defer func() { r.observe("notification_list", start, err) }()

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE owner_id = ?`
	args := []interface{}{filter.OwnerID}
	if filter.Cursor != nil {
		query += ` AND created_at < ?`
		args = append(args, dbTime(*filter.Cursor))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Skip)

	notifications := make([]*model.Notification, 0, filter.Limit)
	if err := r.db.SelectContext(ctx, &notifications, r.db.Rebind(query), args...); err != nil {
		return nil, wrapErr("list notifications", err)
	}
	for _, n := range notifications {
		normalize(n)
	}
	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (n *model.Notification, err error) {
	start := time.Now()
	defer func() { r.observe("notification_mark_read", start, err) }()

	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// An already read notification keeps its first read_at.
		query := tx.Rebind(`UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ?`)
		result, err := tx.ExecContext(ctx, query, dbTime(at), id)
		if err != nil {
			return wrapErr("mark notification read", err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			return wrapErr("mark notification read", repository.ErrNotFound)
		}

		n, err = getNotification(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateProcessing applies upd only while the row is still in one of upd.From.
// It returns ErrNotFound for an unknown id and ErrStaleTransition when the
// row exists in another status.
func (r *notificationRepository) UpdateProcessing(ctx context.Context, id uuid.UUID, upd model.ProcessingUpdate) (n *model.Notification, err error) {
	start := time.Now()
	defer func() { r.observe("notification_update_processing", start, err) }()

	from := make([]string, len(upd.From))
	for i, s := range upd.From {
		from[i] = string(s)
	}

	set := `processing_status = ?`
	args := []interface{}{string(upd.To)}
	if upd.Category != nil && upd.Confidence != nil {
		set += `, category = ?, confidence = ?`
		args = append(args, string(*upd.Category), *upd.Confidence)
	}
	args = append(args, id, from)

	query, args, err := sqlx.In(`UPDATE notifications SET `+set+` WHERE id = ? AND processing_status IN (?)`, args...)
	if err != nil {
		return nil, wrapErr("build processing update", err)
	}

	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return wrapErr("update processing status", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return wrapErr("update processing status", err)
		}

		n, err = getNotification(ctx, tx, id)
		if err != nil {
			return err
		}
		if rows == 0 {
			return repository.ErrStaleTransition
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return n, err
		}
		return nil, err
	}
	return n, nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getNotification(ctx context.Context, q queryer, id uuid.UUID) (*model.Notification, error) {
	query := q.Rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`)

	var n model.Notification
	if err := sqlx.GetContext(ctx, q, &n, query, id); err != nil {
		return nil, wrapErr("get notification", err)
	}
	normalize(&n)
	return &n, nil
}

func normalize(n *model.Notification) {
	n.CreatedAt = n.CreatedAt.UTC()
	if n.ReadAt != nil {
		t := n.ReadAt.UTC()
		n.ReadAt = &t
	}
}
