package handlers

import (
	"net/http"

	"go-relayer/internal/services"
	"go-relayer/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NonceHandler serves GET /nonce/:userAddress
type NonceHandler struct {
	nonces *services.NonceService
	logger *logrus.Logger
}

// NewNonceHandler creates the nonce handler
func NewNonceHandler(nonces *services.NonceService, logger *logrus.Logger) *NonceHandler {
	return &NonceHandler{nonces: nonces, logger: logger}
}

// GetNonce returns the user's current vault nonce as a decimal string
func (h *NonceHandler) GetNonce(c *gin.Context) {
	address := c.Param("userAddress")
	if !services.IsHexAddress(address) {
		respondWithError(c, h.logger, &types.ValidationError{Field: "userAddress", Reason: "must be a 20-byte hex address"})
		return
	}

	nonce, err := h.nonces.GetNonce(c.Request.Context(), common.HexToAddress(address))
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"nonce":   nonce.String(),
	})
}
