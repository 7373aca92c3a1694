package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Handles GET /api/data
func Data(c *gin.Context) {
	decision, _ := c.Get(middleware.ContextRateLimit)

	c.JSON(http.StatusOK, gin.H{
		"message":    "Protected API Access Granted",
		"rate_limit": decision,
	})
}

// Handles GET /api/heavy-data
func HeavyData(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Heavy endpoint served",
		"payload": gin.H{
			"records":      5000,
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}
