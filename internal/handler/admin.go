package handler

import (
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/gin-gonic/gin"
)

// User management for admins
type AdminHandler struct {
	policies Policies
	logger   *slog.Logger
}

func NewAdminHandler(policies Policies, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{policies: policies, logger: logger}
}

// Handles GET /admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.policies.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "Failed to load users")
		return
	}

	c.JSON(http.StatusOK, users)
}

// Handles PUT /admin/upgrade/:id
func (h *AdminHandler) SetTier(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Tier string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tier value"})
		return
	}

	user, err := h.policies.SetTier(c.Request.Context(), userID, req.Tier)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update tier")
		return
	}

	c.JSON(http.StatusOK, user)
}

// Handles PUT /admin/users/:id/algorithm
func (h *AdminHandler) SetAlgorithm(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req algorithmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid algorithm"})
		return
	}

	user, err := h.policies.SetAlgorithm(c.Request.Context(), userID, req.Algorithm)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update algorithm")
		return
	}

	c.JSON(http.StatusOK, user)
}

// Handles PUT /admin/users/:id/whitelist
func (h *AdminHandler) UpdateAllowlist(c *gin.Context) {
	h.updateAddressList(c, repository.Allowlist, "Failed to update whitelist")
}

// Handles PUT /admin/users/:id/blacklist
func (h *AdminHandler) UpdateDenylist(c *gin.Context) {
	h.updateAddressList(c, repository.Denylist, "Failed to update blacklist")
}

func (h *AdminHandler) updateAddressList(c *gin.Context, list repository.AddressList, failure string) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req struct {
		IP     string `json:"ip"`
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide valid ip and action(add/remove)"})
		return
	}

	user, err := h.policies.UpdateAddressList(c.Request.Context(), userID, list, req.IP, req.Action)
	if err != nil {
		respondError(c, h.logger, err, failure)
		return
	}

	c.JSON(http.StatusOK, user)
}
