package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"go-relayer/internal/services"
	"go-relayer/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MaxRelayBodyBytes caps a relay request body; a valid one is well under 1KB
const MaxRelayBodyBytes = 8 << 10

// RelayHandler serves the four /relay endpoints
type RelayHandler struct {
	relay  *services.RelayService
	logger *logrus.Logger
}

// RelayResponse is the success body of a relay endpoint
type RelayResponse struct {
	Success bool `json:"success"`
	*types.RelayResult
}

// NewRelayHandler creates the relay handler
func NewRelayHandler(relay *services.RelayService, logger *logrus.Logger) *RelayHandler {
	return &RelayHandler{relay: relay, logger: logger}
}

// Relay returns the handler for POST /relay/<op>. The caller key for rate limiting is
// the client IP as resolved by gin's trusted proxy settings.
func (h *RelayHandler) Relay(op types.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRelayBodyBytes)
		body, err := c.GetRawData()
		if err != nil {
			reason := "unreadable request body"
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				reason = fmt.Sprintf("request body exceeds %d bytes", MaxRelayBodyBytes)
			}
			respondWithError(c, h.logger, &types.ValidationError{Field: "body", Reason: reason})
			return
		}

		result, err := h.relay.Relay(c.Request.Context(), op, c.ClientIP(), body)
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"operation": op,
				"client_ip": c.ClientIP(),
				"code":      types.ErrorCode(err),
				"error":     err.Error(),
			}).Warn("Relay request failed")
			respondWithError(c, h.logger, err)
			return
		}

		h.logger.WithFields(logrus.Fields{
			"operation":    op,
			"tx_hash":      result.TransactionHash,
			"block_number": result.BlockNumber,
			"gas_used":     result.GasUsed,
		}).Info("✅ Relay confirmed")

		c.JSON(http.StatusOK, RelayResponse{Success: true, RelayResult: result})
	}
}
