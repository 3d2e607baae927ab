package middleware

import (
	"net/http"
	"strings"

	"go-relayer/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminTokenValidator validates admin bearer tokens
type AdminTokenValidator interface {
	ValidateToken(tokenString string) (*handlers.AdminJWTClaims, error)
}

// AdminAuthMiddleware 管理员认证中间件
type AdminAuthMiddleware struct {
	logger    *logrus.Logger
	validator AdminTokenValidator
}

// NewAdminAuthMiddleware 创建管理员认证中间件
func NewAdminAuthMiddleware(logger *logrus.Logger, validator AdminTokenValidator) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		logger:    logger,
		validator: validator,
	}
}

// RequireAdminAuth 要求管理员认证
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.reject(c, http.StatusUnauthorized, "Authentication required", "MISSING_AUTH_HEADER", "missing Authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.reject(c, http.StatusUnauthorized, "Invalid authorization format, need Bearer token", "INVALID_AUTH_FORMAT", "invalid Authorization format")
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			a.reject(c, http.StatusUnauthorized, "Empty token", "EMPTY_TOKEN", "empty token")
			return
		}

		claims, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			a.reject(c, http.StatusUnauthorized, "Invalid or expired token", "INVALID_TOKEN", err.Error())
			return
		}

		// 检查角色
		if claims.Role != "admin" {
			a.reject(c, http.StatusForbidden, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS", "role "+claims.Role)
			return
		}

		// 将用户信息存储到上下文
		c.Set("admin_username", claims.Username)
		c.Set("admin_role", claims.Role)

		c.Next()
	}
}

func (a *AdminAuthMiddleware) reject(c *gin.Context, status int, message, code, reason string) {
	a.logger.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"reason": reason,
	}).Warn("Admin auth failed")

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
