package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"locker-backend/internal/config"
	"locker-backend/internal/handlers"
	"locker-backend/internal/middleware"
)

// Deps handlers and settings the router mounts
type Deps struct {
	DB        *gorm.DB
	Config    *config.Config
	Webhooks  *handlers.WebhookHandler
	Transfers *handlers.TransferHandler
	Executor  handlers.HealthChecker // optional, reported by /health
	Logger    *logrus.Logger
}

// requestLogger structured access log through the shared logger
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("🌐 Request served with error")
			return
		}
		entry.Debug("🌐 Request served")
	}
}

// SetupRouter builds the HTTP surface
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))

	if len(deps.Config.Admin.AllowedIPs) > 0 {
		deps.Logger.WithFields(logrus.Fields{
			"allowed_ips": deps.Config.Admin.AllowedIPs,
			"count":       len(deps.Config.Admin.AllowedIPs),
		}).Info("Admin API IP whitelist configured")
	} else {
		deps.Logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(deps.Logger, deps.Config.Admin.AllowedIPs)
	auth := middleware.NewAuthMiddleware(deps.Config.Auth.ServiceJWTSecret, deps.Config.Auth.Issuer, deps.Logger)

	// ============ Check ============
	r.GET("/ping", handlers.PingHandler)
	r.GET("/health", handlers.HealthCheckHandler(deps.DB, deps.Executor))

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// ============ Ingestion webhooks ============
		api.POST("/webhooks/indexer",
			middleware.WebhookSignature(deps.Config.Webhook.IndexerSecret, deps.Logger),
			deps.Webhooks.IndexerWebhook)
		api.POST("/hooks/db", localhostOnly.Restrict(), deps.Webhooks.DBHook)

		// ============ Service API ============
		secured := api.Group("")
		secured.Use(auth.RequireAuth())
		{
			secured.POST("/automations/trigger", auth.RequireRole(middleware.RoleService, middleware.RoleOperator), deps.Webhooks.TriggerAutomation)
			secured.GET("/transfers/:id", deps.Transfers.GetTransfer)
			secured.GET("/lockers/:lockerId/transfers", deps.Transfers.ListLockerTransfers)
		}

		// ============ Admin (allow list) ============
		admin := api.Group("/admin")
		admin.Use(localhostOnly.Restrict())
		{
			admin.GET("/reconciliation/stalled", deps.Transfers.ListStalled)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "Endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
