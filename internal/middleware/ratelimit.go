package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/admission"
	"github.com/gin-gonic/gin"
)

// Admitter is satisfied by *admission.Gate
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) (*admission.Result, error)
}

// Runs the admission gate for the authenticated user and maps its verdict to a response
func RateLimit(gate Admitter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := gate.Admit(c.Request.Context(), admission.Request{
			UserID:    UserID(c),
			Address:   c.ClientIP(),
			Endpoint:  c.Request.URL.Path,
			Method:    c.Request.Method,
			URI:       c.Request.RequestURI,
			UserAgent: c.Request.UserAgent(),
		})
		if err != nil {
			logger.Error("admission failed",
				slog.String("request_id", c.GetString(ContextRequestID)),
				slog.Any("error", err),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Rate limiter failure",
			})
			return
		}

		switch result.Outcome {
		case admission.OutcomeNotFound:
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": result.Message})
			return
		case admission.OutcomeForbidden:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": result.Message})
			return
		}

		admission.ApplyHeaders(c.Writer.Header(), result.Decision, time.Now())

		if result.Outcome == admission.OutcomeDenied {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   result.Message,
				"details": result.Decision,
			})
			return
		}

		c.Set(ContextRateLimit, result.Decision)
		c.Next()
	}
}
