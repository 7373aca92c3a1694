package middleware

import "github.com/gin-gonic/gin"

// Keys of the values middleware stores on the gin context
const (
	ContextUserID    = "user_id"
	ContextRole      = "role"
	ContextAPIKeyID  = "api_key_id"
	ContextRequestID = "request_id"
	ContextRateLimit = "rate_limit"
)

// Returns the authenticated user id, empty when the request is anonymous
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
