package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Service roles carried in service tokens
const (
	RoleService  = "service"
	RoleOperator = "operator"
)

// ServiceClaims JWT claims of an internal service or operator token
type ServiceClaims struct {
	Service string `json:"service"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateServiceToken signs an HS256 service token valid for ttl
func GenerateServiceToken(secret, issuer, service, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("service JWT secret is empty")
	}
	now := time.Now()
	claims := ServiceClaims{
		Service: service,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   service,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateServiceToken parses and verifies a service token
func ValidateServiceToken(tokenString, secret, issuer string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// AuthMiddleware JWT service authentication
type AuthMiddleware struct {
	secret string
	issuer string
	logger *logrus.Logger
}

// NewAuthMiddleware an empty secret rejects every request
func NewAuthMiddleware(secret, issuer string, logger *logrus.Logger) *AuthMiddleware {
	if secret == "" {
		logger.Warn("⚠️ [Auth] Service JWT secret not configured, authenticated routes will reject all requests")
	}
	return &AuthMiddleware{secret: secret, issuer: issuer, logger: logger}
}

// RequireAuth requires a valid Bearer service token
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.reject(c, "MISSING_AUTH_HEADER", "Authentication required", nil)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.reject(c, "INVALID_AUTH_FORMAT", "Authorization header must be in format: Bearer <token>", nil)
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			a.reject(c, "EMPTY_TOKEN", "Token cannot be empty", nil)
			return
		}
		if a.secret == "" {
			a.reject(c, "AUTH_NOT_CONFIGURED", "Service authentication is not configured", nil)
			return
		}

		claims, err := ValidateServiceToken(tokenString, a.secret, a.issuer)
		if err != nil {
			a.reject(c, "INVALID_TOKEN", "Invalid or expired token", err)
			return
		}

		c.Set("service_name", claims.Service)
		c.Set("service_role", claims.Role)

		a.logger.WithFields(logrus.Fields{
			"path":    c.Request.URL.Path,
			"method":  c.Request.Method,
			"service": claims.Service,
			"role":    claims.Role,
		}).Debug("[Auth] Service token accepted")

		c.Next()
	}
}

func (a *AuthMiddleware) reject(c *gin.Context, code, message string, err error) {
	fields := logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"code":   code,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	a.logger.WithFields(fields).Warn("[Auth] Request rejected")

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
