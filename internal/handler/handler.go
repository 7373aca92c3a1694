package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/api-ratelimiter/internal/circuitbreaker"
	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Accounts is satisfied by *service.AuthService
type Accounts interface {
	Register(ctx context.Context, email, password string) (*models.User, string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context, id string) (*service.Profile, error)
	RotateAPIKey(ctx context.Context, id string) (string, error)
}

// Policies is satisfied by *service.PolicyService
type Policies interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	SetAlgorithm(ctx context.Context, userID, algorithm string) (*models.User, error)
	SetTier(ctx context.Context, userID, tier string) (*models.User, error)
	UpdateAddressList(ctx context.Context, userID string, list repository.AddressList, address, action string) (*models.User, error)
	UpsertRule(ctx context.Context, userID string, in service.RuleInput) ([]models.CustomRule, error)
	DeleteRule(ctx context.Context, userID string, in service.RuleInput) ([]models.CustomRule, error)
}

// Analytics is satisfied by *service.AnalyticsService
type Analytics interface {
	UserRecent(ctx context.Context, userID string) ([]models.AuditRecord, error)
	AdminRecent(ctx context.Context, userID string) ([]models.AuditRecord, error)
	UserSummary(ctx context.Context, userID string) (*service.UserSummary, error)
	AdminSummary(ctx context.Context, userID string) (*service.AdminSummary, error)
}

// BreakerControl is satisfied by *admission.Gate
type BreakerControl interface {
	BreakerStatus() circuitbreaker.Status
	ResetBreaker()
}

// Maps service errors to a JSON response; unexpected errors are logged and hidden behind fallback
func respondError(c *gin.Context, logger *slog.Logger, err error, fallback string) {
	var validationErr *service.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	default:
		logger.Error(fallback,
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// Reads the :id path parameter, answering 400 when it is not a UUID
func userIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return "", false
	}
	return id, true
}
