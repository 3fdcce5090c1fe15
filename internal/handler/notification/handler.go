package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/notification-service/internal/cache"
	"github.com/jwalitptl/notification-service/internal/handler"
	"github.com/jwalitptl/notification-service/internal/model"
	notificationService "github.com/jwalitptl/notification-service/internal/service/notification"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
)

const headerCache = "X-Cache"

// ListCache memoizes serialized listing responses.
type ListCache interface {
	ListKey(q cache.ListQuery) string
	Fetch(ctx context.Context, key string) ([]byte, bool)
	Store(ctx context.Context, key string, body []byte)
}

type Handler struct {
	service notificationService.Servicer
	cache   ListCache
}

// NewHandler returns the notification handler. listCache may be nil to disable caching.
func NewHandler(service notificationService.Servicer, listCache ListCache) *Handler {
	return &Handler{service: service, cache: listCache}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", h.CreateNotification)
		notifications.GET("", h.ListNotifications)
		notifications.GET("/:id", h.GetNotification)
		notifications.PATCH("/:id/read", h.MarkRead)
		notifications.GET("/:id/status", h.GetStatus)
	}
}

type createNotificationRequest struct {
	OwnerID string `json:"owner_id" binding:"required,uuid"`
	Title   string `json:"title" binding:"required,notblank,max=255"`
	Body    string `json:"body" binding:"required,notblank"`
}

type listNotificationsQuery struct {
	OwnerID string `form:"owner_id" binding:"required,uuid"`
	Cursor  string `form:"cursor" binding:"omitempty,excluded_with=Skip"`
	Skip    *int   `form:"skip" binding:"omitempty,gte=0"`
	Limit   *int   `form:"limit" binding:"omitempty,gte=1,lte=100"`
}

func (h *Handler) CreateNotification(c *gin.Context) {
	var req createNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.Abort(c, err)
		return
	}

	n, err := h.service.Create(c.Request.Context(), uuid.MustParse(req.OwnerID), req.Title, req.Body)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

// ListNotifications serves GET /notifications. Offset pagination (skip) can
// repeat or miss rows when notifications are created between requests;
// cursor pagination (created_at of the last row seen) cannot.
func (h *Handler) ListNotifications(c *gin.Context) {
	var q listNotificationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handler.Abort(c, err)
		return
	}

	filter := model.ListFilter{
		OwnerID: uuid.MustParse(q.OwnerID),
		Limit:   model.DefaultPageSize,
	}
	if q.Limit != nil {
		filter.Limit = *q.Limit
	}
	if q.Skip != nil {
		filter.Skip = *q.Skip
	}
	if q.Cursor != "" {
		cursor, err := time.Parse(time.RFC3339Nano, q.Cursor)
		if err != nil {
			handler.Abort(c, apperrors.Validation("invalid query parameters", apperrors.FieldError{
				Field:   "cursor",
				Message: "must be an RFC 3339 timestamp",
			}))
			return
		}
		filter.Cursor = &cursor
	}

	ctx := c.Request.Context()
	var key string
	if h.cache != nil {
		key = h.cache.ListKey(cache.ListQuery{
			OwnerID: filter.OwnerID,
			Cursor:  filter.Cursor,
			Skip:    filter.Skip,
			Limit:   filter.Limit,
		})
		if body, ok := h.cache.Fetch(ctx, key); ok {
			c.Header(headerCache, "HIT")
			c.Data(http.StatusOK, gin.MIMEJSON+"; charset=utf-8", body)
			return
		}
	}

	notifications, err := h.service.List(ctx, filter)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	body, err := json.Marshal(notifications)
	if err != nil {
		handler.Abort(c, err)
		return
	}
	if h.cache != nil {
		h.cache.Store(ctx, key, body)
		c.Header(headerCache, "MISS")
	}
	c.Data(http.StatusOK, gin.MIMEJSON+"; charset=utf-8", body)
}

func (h *Handler) GetNotification(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.service.MarkRead(c.Request.Context(), id)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, n)
}

func (h *Handler) GetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		handler.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.StatusResponse{Status: status})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.Abort(c, apperrors.Validation("invalid notification id", apperrors.FieldError{
			Field:   "id",
			Message: "must be a valid UUID",
		}))
		return uuid.Nil, false
	}
	return id, true
}
