package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notification-service/internal/model"
)

// StatusResponse is the body of GET /notifications/{id}/status.
type StatusResponse struct {
	Status model.ProcessingStatus `json:"status"`
}

// HealthResponse is returned by the liveness and readiness probes.
type HealthResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Abort attaches err for the error middleware and stops the chain.
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
