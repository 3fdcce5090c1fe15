package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/testutil"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newNotification(owner uuid.UUID, createdAt time.Time, title string) *model.Notification {
	return &model.Notification{
		ID:               uuid.New(),
		OwnerID:          owner,
		Title:            title,
		Body:             "body of " + title,
		CreatedAt:        createdAt,
		ProcessingStatus: model.ProcessingStatusPending,
	}
}

func setupNotifications(t *testing.T) (repository.NotificationRepository, repository.OutboxRepository) {
	t.Helper()
	base := sqlstore.NewBaseRepository(testutil.NewTestDB(t), nil)
	return sqlstore.NewNotificationRepository(base), sqlstore.NewOutboxRepository(base)
}

func TestCreateAndGet(t *testing.T) {
	repo, _ := setupNotifications(t)
	ctx := context.Background()

	n := newNotification(uuid.New(), baseTime.Add(123456789*time.Nanosecond), "disk")
	require.NoError(t, repo.Create(ctx, n))

	got, err := repo.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.OwnerID, got.OwnerID)
	assert.Equal(t, "disk", got.Title)
	assert.True(t, got.CreatedAt.Equal(baseTime.Add(123456*time.Microsecond)))
	assert.Nil(t, got.ReadAt)
	assert.Nil(t, got.Category)
	assert.Nil(t, got.Confidence)
	assert.Equal(t, model.ProcessingStatusPending, got.ProcessingStatus)
}

func TestGetUnknownID(t *testing.T) {
	repo, _ := setupNotifications(t)

	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListOrderingAndPagination(t *testing.T) {
	repo, _ := setupNotifications(t)
	ctx := context.Background()
	owner := uuid.New()

	for i, title := range []string{"first", "second", "third"} {
		require.NoError(t, repo.Create(ctx, newNotification(owner, baseTime.Add(time.Duration(i)*time.Second), title)))
	}
	require.NoError(t, repo.Create(ctx, newNotification(uuid.New(), baseTime.Add(time.Hour), "other owner")))

	all, err := repo.List(ctx, model.ListFilter{OwnerID: owner, Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Title)
	assert.Equal(t, "second", all[1].Title)
	assert.Equal(t, "first", all[2].Title)

	page, err := repo.List(ctx, model.ListFilter{OwnerID: owner, Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "second", page[0].Title)

	cursor := all[1].CreatedAt
	older, err := repo.List(ctx, model.ListFilter{OwnerID: owner, Cursor: &cursor, Limit: 10})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "first", older[0].Title)

	empty, err := repo.List(ctx, model.ListFilter{OwnerID: uuid.New(), Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMarkReadKeepsFirstTimestamp(t *testing.T) {
	repo, _ := setupNotifications(t)
	ctx := context.Background()

	n := newNotification(uuid.New(), baseTime, "read me")
	require.NoError(t, repo.Create(ctx, n))

	first, err := repo.MarkRead(ctx, n.ID, baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	assert.True(t, first.ReadAt.Equal(baseTime.Add(time.Minute)))

	second, err := repo.MarkRead(ctx, n.ID, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, second.ReadAt.Equal(baseTime.Add(time.Minute)))

	_, err = repo.MarkRead(ctx, uuid.New(), baseTime)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateProcessingIsConditional(t *testing.T) {
	repo, _ := setupNotifications(t)
	ctx := context.Background()

	n := newNotification(uuid.New(), baseTime, "error in service")
	require.NoError(t, repo.Create(ctx, n))

	got, err := repo.UpdateProcessing(ctx, n.ID, model.ProcessingUpdate{
		From: model.Predecessors(model.ProcessingStatusProcessing),
		To:   model.ProcessingStatusProcessing,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingStatusProcessing, got.ProcessingStatus)

	// A second claim finds the row already processing.
	_, err = repo.UpdateProcessing(ctx, n.ID, model.ProcessingUpdate{
		From: model.Predecessors(model.ProcessingStatusProcessing),
		To:   model.ProcessingStatusProcessing,
	})
	assert.ErrorIs(t, err, repository.ErrStaleTransition)

	category := model.CategoryCritical
	confidence := 0.8
	got, err = repo.UpdateProcessing(ctx, n.ID, model.ProcessingUpdate{
		From:       model.Predecessors(model.ProcessingStatusCompleted),
		To:         model.ProcessingStatusCompleted,
		Category:   &category,
		Confidence: &confidence,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingStatusCompleted, got.ProcessingStatus)
	require.NotNil(t, got.Category)
	assert.Equal(t, model.CategoryCritical, *got.Category)
	assert.InDelta(t, 0.8, *got.Confidence, 1e-9)

	_, err = repo.UpdateProcessing(ctx, uuid.New(), model.ProcessingUpdate{
		From: model.Predecessors(model.ProcessingStatusFailed),
		To:   model.ProcessingStatusFailed,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
