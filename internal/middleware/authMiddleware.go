package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

// Authenticates the caller with an X-API-Key header or a Bearer JWT
func RequireAuth(authService *service.AuthService, apiKeyService *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := strings.TrimSpace(c.GetHeader(apiKeyHeader)); key != "" {
			apiKey, err := apiKeyService.Validate(c.Request.Context(), key)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid API key",
				})
				return
			}

			c.Set(ContextUserID, apiKey.UserID.String())
			c.Set(ContextAPIKeyID, apiKey.ID)

			go apiKeyService.UpdateLastUsed(c.Request.Context(), apiKey.ID)

			c.Next()
			return
		}

		// Extract token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header or X-API-Key required",
			})
			return
		}

		// Check Bearer prefix
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Use: Bearer <token>",
			})
			return
		}

		// Validate token
		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		// Store user info in context
		c.Set(ContextUserID, claims["user_id"])
		c.Set(ContextRole, claims["role"])

		c.Next()
	}
}

// Lets the request through only when the stored user has the ADMIN role.
// The role is read from the database so demotions apply before tokens expire.
func RequireAdmin(authService *service.AuthService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authService.GetUserByID(c.Request.Context(), UserID(c))
		if err != nil && !errors.Is(err, service.ErrUserNotFound) {
			logger.Error("admin check failed", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Admin check failed",
			})
			return
		}

		if user == nil || user.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Access denied: Admins only",
			})
			return
		}

		c.Next()
	}
}
