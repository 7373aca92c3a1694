package handler

import (
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/api-ratelimiter/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AnalyticsHandler struct {
	analytics Analytics
	logger    *slog.Logger
}

func NewAnalyticsHandler(analytics Analytics, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logger}
}

// Handles GET /api/analytics
func (h *AnalyticsHandler) UserRecent(c *gin.Context) {
	records, err := h.analytics.UserRecent(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to load analytics")
		return
	}

	c.JSON(http.StatusOK, records)
}

// Handles GET /api/analytics/summary
func (h *AnalyticsHandler) UserSummary(c *gin.Context) {
	summary, err := h.analytics.UserSummary(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to load analytics summary")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) AdminRecent(c *gin.Context) {
	userID, ok := userIDQuery(c)
	if !ok {
		return
	}

	records, err := h.analytics.AdminRecent(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load analytics")
		return
	}

	c.JSON(http.StatusOK, records)
}

// Handles GET /admin/analytics/summary
func (h *AnalyticsHandler) AdminSummary(c *gin.Context) {
	userID, ok := userIDQuery(c)
	if !ok {
		return
	}

	summary, err := h.analytics.AdminSummary(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load analytics summary")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Reads the optional user_id filter; empty means every user
func userIDQuery(c *gin.Context) (string, bool) {
	userID := c.Query("user_id")
	if userID == "" {
		return "", true
	}
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid userId"})
		return "", false
	}
	return userID, true
}
