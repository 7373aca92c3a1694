package handler

import (
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/api-ratelimiter/internal/middleware"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/gin-gonic/gin"
)

// Self-service policy changes of the authenticated user
type SettingsHandler struct {
	policies Policies
	logger   *slog.Logger
}

func NewSettingsHandler(policies Policies, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{policies: policies, logger: logger}
}

type algorithmRequest struct {
	Algorithm string `json:"algorithm"`
}

// Handles PUT /api/settings/algorithm
func (h *SettingsHandler) SetAlgorithm(c *gin.Context) {
	var req algorithmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid algorithm"})
		return
	}

	user, err := h.policies.SetAlgorithm(c.Request.Context(), middleware.UserID(c), req.Algorithm)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update algorithm")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Algorithm updated", "user": user})
}

// Handles PUT /api/settings/rules
func (h *SettingsHandler) UpsertRule(c *gin.Context) {
	var req service.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	rules, err := h.policies.UpsertRule(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update rules")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule upserted", "custom_rules": rules})
}

// Handles DELETE /api/settings/rules
func (h *SettingsHandler) DeleteRule(c *gin.Context) {
	var req service.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	rules, err := h.policies.DeleteRule(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, h.logger, err, "Failed to remove rule")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule removed", "custom_rules": rules})
}
