package sqlstore_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
)

func TestCreateWritesOutboxEventAtomically(t *testing.T) {
	repo, outbox := setupNotifications(t)
	ctx := context.Background()

	n := newNotification(uuid.New(), baseTime, "queued")
	evt, err := model.NewAnalysisEvent(n.ID, baseTime)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, n, evt))

	var seen []*model.OutboxEvent
	err = outbox.ProcessBatch(ctx, 10, func(tx repository.OutboxTx, events []*model.OutboxEvent) error {
		seen = events
		return tx.MarkProcessed(ctx, events[0].ID, baseTime.Add(time.Second))
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, model.EventTypeAnalyze, seen[0].EventType)

	var task model.AnalysisTask
	require.NoError(t, json.Unmarshal(seen[0].Payload, &task))
	assert.Equal(t, n.ID, task.NotificationID)

	// Processed events are not handed out again.
	called := false
	err = outbox.ProcessBatch(ctx, 10, func(repository.OutboxTx, []*model.OutboxEvent) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRetryAndFailedEvents(t *testing.T) {
	repo, outbox := setupNotifications(t)
	ctx := context.Background()

	n := newNotification(uuid.New(), baseTime, "flaky")
	evt, err := model.NewAnalysisEvent(n.ID, baseTime)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, n, evt))

	require.NoError(t, outbox.ProcessBatch(ctx, 10, func(tx repository.OutboxTx, events []*model.OutboxEvent) error {
		return tx.MarkRetry(ctx, events[0].ID, "broker down", baseTime)
	}))

	var retried *model.OutboxEvent
	require.NoError(t, outbox.ProcessBatch(ctx, 10, func(tx repository.OutboxTx, events []*model.OutboxEvent) error {
		retried = events[0]
		return tx.MarkFailed(ctx, events[0].ID, "broker down", baseTime)
	}))
	require.NotNil(t, retried)
	assert.Equal(t, model.OutboxStatusRetry, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	require.NotNil(t, retried.ErrorMessage)
	assert.Equal(t, "broker down", *retried.ErrorMessage)

	called := false
	require.NoError(t, outbox.ProcessBatch(ctx, 10, func(repository.OutboxTx, []*model.OutboxEvent) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestDeleteProcessedBefore(t *testing.T) {
	repo, outbox := setupNotifications(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		n := newNotification(uuid.New(), baseTime, "cleanup")
		evt, err := model.NewAnalysisEvent(n.ID, baseTime)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, n, evt))
	}

	require.NoError(t, outbox.ProcessBatch(ctx, 1, func(tx repository.OutboxTx, events []*model.OutboxEvent) error {
		return tx.MarkProcessed(ctx, events[0].ID, baseTime)
	}))

	deleted, err := outbox.DeleteProcessedBefore(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = outbox.DeleteProcessedBefore(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
