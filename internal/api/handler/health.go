package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	service string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service string) *HealthHandler {
	return &HealthHandler{service: service}
}

// Health reports that the process is serving. Sync freshness lives under
// /api/v1/system/health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
	})
}
