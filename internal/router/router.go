package router

import (
	"net/http"
	"strconv"
	"strings"

	"go-relayer/internal/config"
	"go-relayer/internal/handlers"
	"go-relayer/internal/middleware"
	"go-relayer/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handlers groups everything the router mounts
type Handlers struct {
	Relay       *handlers.RelayHandler
	Nonce       *handlers.NonceHandler
	Health      *handlers.HealthHandler
	AdminAuth   *handlers.AdminAuthHandler
	Submissions *handlers.SubmissionsHandler
}

// corsMiddleware CORS middleware. An empty origin list allows all origins.
func corsMiddleware(cfg config.CORSConfig, logger *logrus.Logger) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	maxAge := 3600
	if cfg.MaxAge > 0 {
		maxAge = cfg.MaxAge
	}

	isAllowed := func(origin string) bool {
		for _, allowed := range allowedOrigins {
			if strings.TrimSpace(allowed) == origin {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			if isAllowed(origin) {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			} else {
				logger.WithFields(logrus.Fields{
					"request_origin":  origin,
					"allowed_origins": allowedOrigins,
					"path":            c.Request.URL.Path,
					"method":          c.Request.Method,
					"remote_addr":     c.ClientIP(),
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if cfg.AllowCredentials && !allowAll {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, Retry-After")
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		// Handle OPTIONS preflight requests
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SetupRouter builds the HTTP surface
func SetupRouter(cfg *config.Config, logger *logrus.Logger, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(corsMiddleware(cfg.CORS, logger))

	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.WithError(err).Warn("Invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}

	// ============ Check ============
	r.GET("/ping", handlers.Ping)
	r.GET("/health", h.Health.Health)

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ Relay API ============
	r.GET("/nonce/:userAddress", h.Nonce.GetNonce)
	relay := r.Group("/relay")
	for _, op := range types.Operations() {
		relay.POST("/"+string(op), h.Relay.Relay(op))
	}

	// ============ Admin API (IP whitelist + JWT) ============
	if len(cfg.Admin.AllowedIPs) > 0 {
		logger.WithFields(logrus.Fields{
			"allowed_ips": cfg.Admin.AllowedIPs,
			"count":       len(cfg.Admin.AllowedIPs),
		}).Info("Admin API IP whitelist configured")
	} else {
		logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, cfg.Admin.AllowedIPs)
	adminAuth := middleware.NewAdminAuthMiddleware(logger, h.AdminAuth)

	admin := r.Group("/admin", localhostOnly.Restrict())
	admin.POST("/login", h.AdminAuth.AdminLoginHandler)

	protected := admin.Group("", adminAuth.RequireAdminAuth())
	protected.GET("/submissions", h.Submissions.ListSubmissions)
	protected.GET("/submissions/:id", h.Submissions.GetSubmission)
	protected.POST("/recover", h.Submissions.Recover)

	// ============ NoRoute handler for 404 ============
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Endpoint not found",
			"code":    "NOT_FOUND",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
