package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notification-service/internal/handler"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ready(ctx context.Context) error
}

type Handler struct {
	pinger  Pinger
	timeout time.Duration
}

func NewHandler(pinger Pinger) *Handler {
	return &Handler{
		pinger:  pinger,
		timeout: 2 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health/live", h.LivenessCheck)
	r.GET("/health/ready", h.ReadinessCheck)
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, handler.HealthResponse{Status: "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.pinger.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, handler.HealthResponse{
			Status: "DOWN",
			Reason: "database connection failed",
		})
		return
	}
	c.JSON(http.StatusOK, handler.HealthResponse{Status: "UP"})
}
