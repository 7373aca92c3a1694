package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/aman-churiwal/api-ratelimiter/internal/admission"
	"github.com/gin-gonic/gin"
)

// Allows browser calls from the listed origins, or from any origin when the list is empty
func CORS(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if len(origins) > 0 && !slices.Contains(origins, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "CORS origin not allowed",
			})
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", strings.Join([]string{"Authorization", "Content-Type", apiKeyHeader, requestIDHeader}, ", "))
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", strings.Join([]string{
			admission.HeaderAlgorithm, admission.HeaderLimit, admission.HeaderRemaining,
			admission.HeaderCapacity, admission.HeaderReset, admission.HeaderRetryAfter, requestIDHeader,
		}, ", "))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
