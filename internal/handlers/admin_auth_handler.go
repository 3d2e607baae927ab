package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"go-relayer/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

const adminTokenIssuer = "go-relayer-admin"

// AdminAuthHandler 管理员认证处理器
type AdminAuthHandler struct {
	username   string
	password   string
	totpSecret string
	jwtSecret  []byte
	tokenTTL   time.Duration
	logger     *logrus.Logger
}

// AdminLoginRequest 管理员登录请求
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse 管理员登录响应
type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminJWTClaims 管理员 JWT Claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthHandler 创建管理员认证处理器
func NewAdminAuthHandler(cfg config.AdminConfig, logger *logrus.Logger) *AdminAuthHandler {
	if cfg.TOTPSecret == "" || cfg.Password == "" || cfg.JWTSecret == "" {
		logrus.Warn("⚠️ 安全警告: admin.password / admin.totpSecret / admin.jwtSecret 未配置，管理员登录将被拒绝")
	}
	return &AdminAuthHandler{
		username:   cfg.Username,
		password:   cfg.Password,
		totpSecret: cfg.TOTPSecret,
		jwtSecret:  []byte(cfg.JWTSecret),
		tokenTTL:   time.Duration(cfg.TokenTTL) * time.Minute,
		logger:     logger,
	}
}

// Configured reports whether admin login can succeed at all
func (h *AdminAuthHandler) Configured() bool {
	return h.password != "" && h.totpSecret != "" && len(h.jwtSecret) > 0
}

// AdminLoginHandler 管理员登录处理
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if !h.Configured() {
		c.JSON(http.StatusServiceUnavailable, AdminLoginResponse{
			Success: false,
			Message: "Admin login is not configured",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	// 故意使用通用的错误消息
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) == 1
	if !userOK || !passOK {
		h.logger.WithFields(logrus.Fields{
			"client_ip": c.ClientIP(),
			"username":  req.Username,
		}).Warn("Admin login failed - invalid credentials")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		h.logger.WithFields(logrus.Fields{
			"client_ip": c.ClientIP(),
			"username":  req.Username,
		}).Warn("Admin login failed - invalid TOTP code")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	token, err := h.GenerateToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, AdminLoginResponse{
		Success: true,
		Token:   token,
		Message: "Login successful",
	})
}

// GenerateToken 生成管理员 JWT token
func (h *AdminAuthHandler) GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := AdminJWTClaims{
		Username: username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    adminTokenIssuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken 验证管理员 JWT token
func (h *AdminAuthHandler) ValidateToken(tokenString string) (*AdminJWTClaims, error) {
	if len(h.jwtSecret) == 0 {
		return nil, fmt.Errorf("admin JWT secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	}, jwt.WithIssuer(adminTokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*AdminJWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
