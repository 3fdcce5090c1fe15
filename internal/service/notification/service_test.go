package notification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/service/notification"
	"github.com/jwalitptl/notification-service/internal/testutil"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
)

type recordingInvalidator struct {
	mu     sync.Mutex
	owners []uuid.UUID
}

func (r *recordingInvalidator) InvalidateOwner(_ context.Context, owner uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, owner)
}

type fixture struct {
	svc    *notification.Service
	outbox repository.OutboxRepository
	cache  *recordingInvalidator
	clock  time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	base := sqlstore.NewBaseRepository(testutil.NewTestDB(t), nil)
	f := &fixture{
		outbox: sqlstore.NewOutboxRepository(base),
		cache:  &recordingInvalidator{},
		clock:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = notification.NewService(
		sqlstore.NewNotificationRepository(base),
		f.cache,
		nil,
		notification.WithClock(func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		}),
	)
	return f
}

func TestCreateStartsPendingAndQueuesAnalysis(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	n, err := f.svc.Create(ctx, owner, "T", "Error occurred")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingStatusPending, n.ProcessingStatus)
	assert.Nil(t, n.Category)
	assert.Nil(t, n.Confidence)
	assert.Nil(t, n.ReadAt)
	assert.Equal(t, []uuid.UUID{owner}, f.cache.owners)

	status, err := f.svc.Status(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingStatusPending, status)

	var queued int
	require.NoError(t, f.outbox.ProcessBatch(ctx, 10, func(_ repository.OutboxTx, events []*model.OutboxEvent) error {
		queued = len(events)
		return nil
	}))
	assert.Equal(t, 1, queued)
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Create(context.Background(), uuid.Nil, " ", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Len(t, appErr.Fields, 3)
}

func TestUnknownIDIsNotFound(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.Get(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = f.svc.MarkRead(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = f.svc.Status(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	n, err := f.svc.Create(ctx, uuid.New(), "hello", "world")
	require.NoError(t, err)

	first, err := f.svc.MarkRead(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	assert.False(t, first.ReadAt.After(f.clock))

	second, err := f.svc.MarkRead(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, second.ReadAt.Equal(*first.ReadAt))
}

func TestListValidationAndOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	var created []*model.Notification
	for _, title := range []string{"one", "two", "three"} {
		n, err := f.svc.Create(ctx, owner, title, "body")
		require.NoError(t, err)
		created = append(created, n)
	}

	page, err := f.svc.List(ctx, model.ListFilter{OwnerID: owner, Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, created[1].ID, page[0].ID)

	all, err := f.svc.List(ctx, model.ListFilter{OwnerID: owner, Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	for _, filter := range []model.ListFilter{
		{OwnerID: owner, Limit: 0},
		{OwnerID: owner, Limit: 101},
		{OwnerID: owner, Limit: 10, Skip: -1},
		{OwnerID: uuid.Nil, Limit: 10},
		{OwnerID: owner, Limit: 10, Skip: 1, Cursor: &created[2].CreatedAt},
	} {
		_, err := f.svc.List(ctx, filter)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation), "%+v", filter)
	}
}

func TestAnalysisTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	n, err := f.svc.Create(ctx, owner, "T", "Error occurred")
	require.NoError(t, err)

	_, err = f.svc.CompleteAnalysis(ctx, n.ID, model.CategoryCritical, 0.8)
	assert.ErrorIs(t, err, notification.ErrTransitionRejected, "pending cannot complete")

	claimed, err := f.svc.BeginAnalysis(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingStatusProcessing, claimed.ProcessingStatus)

	_, err = f.svc.BeginAnalysis(ctx, n.ID)
	assert.ErrorIs(t, err, notification.ErrTransitionRejected, "duplicate delivery")

	done, err := f.svc.CompleteAnalysis(ctx, n.ID, model.CategoryCritical, 0.8)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingStatusCompleted, done.ProcessingStatus)
	require.True(t, done.Analyzed())
	assert.Equal(t, model.CategoryCritical, *done.Category)

	_, err = f.svc.FailAnalysis(ctx, n.ID, "late failure")
	assert.ErrorIs(t, err, notification.ErrTransitionRejected, "completed is terminal")

	// create, begin and complete; rejected transitions leave the cache alone
	assert.Equal(t, []uuid.UUID{owner, owner, owner}, f.cache.owners)

	_, err = f.svc.BeginAnalysis(ctx, uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestFailAnalysisFromPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	n, err := f.svc.Create(ctx, uuid.New(), "T", "never delivered")
	require.NoError(t, err)

	failed, err := f.svc.FailAnalysis(ctx, n.ID, "queue unreachable")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingStatusFailed, failed.ProcessingStatus)
	assert.False(t, failed.Analyzed())

	_, err = f.svc.BeginAnalysis(ctx, n.ID)
	assert.ErrorIs(t, err, notification.ErrTransitionRejected)
}

func TestCompleteAnalysisRejectsOutOfRangeConfidence(t *testing.T) {
	f := setup(t)

	_, err := f.svc.CompleteAnalysis(context.Background(), uuid.New(), model.CategoryInfo, 1.5)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}
