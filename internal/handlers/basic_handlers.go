package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PingHandler liveness probe
// GET /ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// HealthChecker downstream service that can report its own health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckHandler readiness probe. The ledger datastore is required; an unreachable
// executor only degrades the status since ingestion keeps working without it.
// GET /health
func HealthCheckHandler(db *gorm.DB, executor HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{
			"status":  "ok",
			"service": "locker-backend",
		}

		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}

		status["database"] = "ok"

		if executor != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			err := executor.HealthCheck(ctx)
			cancel()
			if err != nil {
				status["status"] = "degraded"
				status["executor"] = err.Error()
			} else {
				status["executor"] = "ok"
			}
		}
		c.JSON(http.StatusOK, status)
	}
}
