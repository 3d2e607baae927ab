package handlers

import (
	"net/http"

	"go-relayer/internal/services"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves GET /health
type HealthHandler struct {
	status *services.StatusService
}

// NewHealthHandler creates the health handler
func NewHealthHandler(status *services.StatusService) *HealthHandler {
	return &HealthHandler{status: status}
}

// Health reports operator, vault and network; 503 when the ledger is unreachable
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.status.Status(c.Request.Context())
	code := http.StatusOK
	if status.Status != services.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Ping liveness probe without ledger access
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
