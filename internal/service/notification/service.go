package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/logger"
)

// ErrTransitionRejected is returned when a processing status change is not
// allowed from the notification's current status.
var ErrTransitionRejected = errors.New("processing status transition rejected")

const maxTitleLength = 255

// Invalidator drops every cached listing of an owner.
type Invalidator interface {
	InvalidateOwner(ctx context.Context, ownerID uuid.UUID)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateOwner(context.Context, uuid.UUID) {}

type Servicer interface {
	Create(ctx context.Context, ownerID uuid.UUID, title, body string) (*model.Notification, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	List(ctx context.Context, filter model.ListFilter) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	Status(ctx context.Context, id uuid.UUID) (model.ProcessingStatus, error)
	BeginAnalysis(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	CompleteAnalysis(ctx context.Context, id uuid.UUID, category model.Category, confidence float64) (*model.Notification, error)
	FailAnalysis(ctx context.Context, id uuid.UUID, reason string) (*model.Notification, error)
	Ready(ctx context.Context) error
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns every state transition of a notification.
type Service struct {
	repo  repository.NotificationRepository
	cache Invalidator
	log   *logger.Logger
	now   func() time.Time
}

func NewService(repo repository.NotificationRepository, cache Invalidator, log *logger.Logger, opts ...Option) *Service {
	if cache == nil {
		cache = noopInvalidator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		repo:  repo,
		cache: cache,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a pending notification together with its analysis outbox
// event. The event is relayed to the queue asynchronously, so a broker
// outage never fails creation.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, title, body string) (*model.Notification, error) {
	if err := validateNew(ownerID, title, body); err != nil {
		return nil, err
	}

	now := s.now()
	n := &model.Notification{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		Title:            title,
		Body:             body,
		CreatedAt:        now,
		ProcessingStatus: model.ProcessingStatusPending,
	}

	evt, err := model.NewAnalysisEvent(n.ID, now)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to build analysis event: %w", err))
	}

	if err := s.repo.Create(ctx, n, evt); err != nil {
		return nil, translate("create notification", err)
	}

	s.cache.InvalidateOwner(ctx, ownerID)
	s.log.Debug("notification created", "notification_id", n.ID.String(), "owner_id", ownerID.String())
	return n, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, translate("get notification", err)
	}
	return n, nil
}

// List returns one page of the owner's notifications, newest first.
func (s *Service) List(ctx context.Context, filter model.ListFilter) ([]*model.Notification, error) {
	var fields []apperrors.FieldError
	if filter.OwnerID == uuid.Nil {
		fields = append(fields, apperrors.FieldError{Field: "owner_id", Message: "is required"})
	}
	if filter.Limit < 1 || filter.Limit > model.MaxPageSize {
		fields = append(fields, apperrors.FieldError{
			Field:   "limit",
			Message: fmt.Sprintf("must be between 1 and %d", model.MaxPageSize),
		})
	}
	if filter.Skip < 0 {
		fields = append(fields, apperrors.FieldError{Field: "skip", Message: "must not be negative"})
	}
	if filter.Cursor != nil && filter.Skip > 0 {
		fields = append(fields, apperrors.FieldError{Field: "cursor", Message: "cannot be combined with skip"})
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation("invalid query parameters", fields...)
	}

	notifications, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, translate("list notifications", err)
	}
	return notifications, nil
}

// MarkRead sets read_at once. Repeated calls succeed and keep the first timestamp.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	n, err := s.repo.MarkRead(ctx, id, s.now())
	if err != nil {
		return nil, translate("mark notification read", err)
	}
	s.cache.InvalidateOwner(ctx, n.OwnerID)
	return n, nil
}

func (s *Service) Status(ctx context.Context, id uuid.UUID) (model.ProcessingStatus, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return n.ProcessingStatus, nil
}

// BeginAnalysis claims a pending notification for analysis.
func (s *Service) BeginAnalysis(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return s.transition(ctx, id, model.ProcessingUpdate{To: model.ProcessingStatusProcessing})
}

// CompleteAnalysis stores the result and the completed status in one update.
func (s *Service) CompleteAnalysis(ctx context.Context, id uuid.UUID, category model.Category, confidence float64) (*model.Notification, error) {
	if confidence < 0 || confidence > 1 {
		return nil, apperrors.Validation("confidence must be within [0, 1]")
	}
	return s.transition(ctx, id, model.ProcessingUpdate{
		To:         model.ProcessingStatusCompleted,
		Category:   &category,
		Confidence: &confidence,
	})
}

func (s *Service) FailAnalysis(ctx context.Context, id uuid.UUID, reason string) (*model.Notification, error) {
	n, err := s.transition(ctx, id, model.ProcessingUpdate{To: model.ProcessingStatusFailed})
	if err == nil {
		s.log.Warn("notification analysis failed", "notification_id", id.String(), "reason", reason)
	}
	return n, err
}

// Ready reports whether the store can serve requests.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return translate("ping store", err)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, upd model.ProcessingUpdate) (*model.Notification, error) {
	upd.From = model.Predecessors(upd.To)

	n, err := s.repo.UpdateProcessing(ctx, id, upd)
	if errors.Is(err, repository.ErrStaleTransition) {
		current := model.ProcessingStatus("unknown")
		if n != nil {
			current = n.ProcessingStatus
		}
		return n, fmt.Errorf("%w: %s -> %s", ErrTransitionRejected, current, upd.To)
	}
	if err != nil {
		return nil, translate("update processing status", err)
	}

	s.cache.InvalidateOwner(ctx, n.OwnerID)
	return n, nil
}

func validateNew(ownerID uuid.UUID, title, body string) error {
	var fields []apperrors.FieldError
	if ownerID == uuid.Nil {
		fields = append(fields, apperrors.FieldError{Field: "owner_id", Message: "is required"})
	}
	switch {
	case strings.TrimSpace(title) == "":
		fields = append(fields, apperrors.FieldError{Field: "title", Message: "is required"})
	case utf8.RuneCountInString(title) > maxTitleLength:
		fields = append(fields, apperrors.FieldError{
			Field:   "title",
			Message: fmt.Sprintf("must be at most %d characters", maxTitleLength),
		})
	}
	if strings.TrimSpace(body) == "" {
		fields = append(fields, apperrors.FieldError{Field: "body", Message: "is required"})
	}
	if len(fields) > 0 {
		return apperrors.Validation("invalid notification", fields...)
	}
	return nil
}

// translate maps store errors onto the API error kinds.
func translate(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("notification", err)
	case errors.Is(err, repository.ErrUnavailable):
		return apperrors.StoreUnavailable(err)
	default:
		return apperrors.Internal(fmt.Errorf("failed to %s: %w", op, err))
	}
}
