package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/api-ratelimiter/internal/middleware"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewAuthHandler(accounts Accounts, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: logger}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Handles POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, apiKey, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}
	if err != nil {
		respondError(c, h.logger, err, "Registration failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Registered",
		"user":    user,
		"api_key": apiKey,
	})
}

// Handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	token, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		respondError(c, h.logger, err, "Login failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Handles GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	profile, err := h.accounts.Me(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to load profile")
		return
	}

	c.JSON(http.StatusOK, profile)
}

// Handles POST /auth/rotate-api-key
func (h *AuthHandler) RotateAPIKey(c *gin.Context) {
	apiKey, err := h.accounts.RotateAPIKey(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to rotate API key")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "API key rotated",
		"api_key": apiKey,
	})
}
