package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequireRole must run after RequireAuth; rejects tokens whose role is not one of roles
func (a *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("service_role")
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		a.logger.WithFields(logrus.Fields{
			"path":    c.Request.URL.Path,
			"method":  c.Request.Method,
			"service": c.GetString("service_name"),
			"role":    role,
		}).Warn("[Auth] Insufficient permissions")

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Insufficient permissions",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
	}
}
