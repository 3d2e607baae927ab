package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go-relayer/internal/models"
	"go-relayer/internal/repository"
	"go-relayer/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SubmissionsHandler 提交日志管理接口
type SubmissionsHandler struct {
	repo   repository.PendingTransactionRepository
	queue  *services.TransactionQueueService
	logger *logrus.Logger
}

// NewSubmissionsHandler creates the journal inspection handler
func NewSubmissionsHandler(repo repository.PendingTransactionRepository, queue *services.TransactionQueueService, logger *logrus.Logger) *SubmissionsHandler {
	return &SubmissionsHandler{repo: repo, queue: queue, logger: logger}
}

// ListSubmissions GET /admin/submissions?status=&page=&pageSize=
func (h *SubmissionsHandler) ListSubmissions(c *gin.Context) {
	status := models.PendingTransactionStatus(c.Query("status"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	records, total, err := h.repo.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list submissions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list submissions",
			"code":    "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"total":   total,
		"page":    page,
	})
}

// GetSubmission GET /admin/submissions/:id
func (h *SubmissionsHandler) GetSubmission(c *gin.Context) {
	record, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Submission not found",
			"code":    "NOT_FOUND",
		})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load submission")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to load submission",
			"code":    "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    record,
	})
}

// Recover POST /admin/recover reconciles every in-flight record now
func (h *SubmissionsHandler) Recover(c *gin.Context) {
	summary, err := h.queue.ReconcileNow(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual recovery failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "UPSTREAM_UNAVAILABLE",
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"admin":   c.GetString("admin_username"),
		"summary": summary,
	}).Info("Manual recovery completed")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
	})
}
