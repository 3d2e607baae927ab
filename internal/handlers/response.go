package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"go-relayer/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HTTPStatusForError maps a relay pipeline error to its HTTP status
func HTTPStatusForError(err error) int {
	switch types.ErrorCode(err) {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case types.CodeExecutionReverted:
		return http.StatusUnprocessableEntity
	case types.CodeSubmissionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError writes {success:false, error, code} plus the details a caller
// needs to decide whether re-submitting is safe
func respondWithError(c *gin.Context, logger *logrus.Logger, err error) {
	status := HTTPStatusForError(err)
	body := gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    types.ErrorCode(err),
	}

	var (
		validationErr *types.ValidationError
		rateLimitErr  *types.RateLimitedError
		revertErr     *types.ExecutionRevertedError
		timeoutErr    *types.SubmissionTimeoutError
	)
	switch {
	case errors.As(err, &validationErr):
		body["field"] = validationErr.Field
	case errors.As(err, &rateLimitErr):
		seconds := int(math.Ceil(rateLimitErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		body["retryAfterMs"] = rateLimitErr.RetryAfter.Milliseconds()
	case errors.As(err, &revertErr):
		if revertErr.TxHash != "" {
			body["transactionHash"] = revertErr.TxHash
		}
	case errors.As(err, &timeoutErr):
		if timeoutErr.TxHash != "" {
			body["transactionHash"] = timeoutErr.TxHash
		}
		body["retrySafe"] = timeoutErr.RetrySafe()
	}

	if status >= http.StatusInternalServerError {
		logger.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"code":   body["code"],
			"error":  err.Error(),
		}).Error("Request failed")
	}

	c.JSON(status, body)
}
