package service

import (
	"context"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/google/uuid"
)

// Persistence needed by the account and policy services.
// Implemented by *repository.UserRepository.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	UpdateTier(ctx context.Context, id string, tier models.Tier) error
	UpdateAlgorithm(ctx context.Context, id string, algorithm models.Algorithm) error
	AddAddress(ctx context.Context, id string, list repository.AddressList, address string) error
	RemoveAddress(ctx context.Context, id string, list repository.AddressList, address string) error
	UpsertCustomRule(ctx context.Context, rule *models.CustomRule) error
	DeleteCustomRule(ctx context.Context, userID, endpoint, method string) (int64, error)
}

// Implemented by *repository.APIKeyRepository
type APIKeyStore interface {
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.APIKey, error)
	Replace(ctx context.Context, userID uuid.UUID, next *models.APIKey) ([]string, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID) error
}

// Implemented by *repository.AuditRepository
type AuditStore interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error)
	Summary(ctx context.Context, userID string) (*repository.AuditSummary, error)
	TopEndpoint(ctx context.Context, userID string) (string, error)
	DistinctUsers(ctx context.Context, userID string) (int64, error)
}
