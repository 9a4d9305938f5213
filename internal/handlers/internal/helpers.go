// Package handlers provides common helper functions for HTTP handlers
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"locker-backend/internal/models"
)

// RespondWithError unified error response function
func RespondWithError(c *gin.Context, statusCode int, errorType, message string, details interface{}) {
	response := gin.H{
		"success": false,
		"error":   errorType,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(statusCode, response)
}

// ParseDirection parses an optional ?direction= filter; ok is false for unknown values
func ParseDirection(raw string) (direction *models.TransferDirection, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return nil, true
	case string(models.TransferDirectionIn):
		d := models.TransferDirectionIn
		return &d, true
	case string(models.TransferDirectionOut):
		d := models.TransferDirectionOut
		return &d, true
	default:
		return nil, false
	}
}
