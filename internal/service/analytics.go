package service

import (
	"context"
	"errors"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
)

const (
	userRecentLimit  = 20
	adminRecentLimit = 100
)

type AnalyticsService struct {
	repository AuditStore
}

func NewAnalyticsService(repo AuditStore) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

// Summary of one user's admission history
type UserSummary struct {
	repository.AuditSummary
	TopEndpoint *string `json:"top_endpoint"`
}

// Summary across users, optionally narrowed to one
type AdminSummary struct {
	repository.AuditSummary
	ImpactedUsers int64 `json:"impacted_users"`
}

// Retrieves the newest records of one user
func (s *AnalyticsService) UserRecent(ctx context.Context, userID string) ([]models.AuditRecord, error) {
	return s.repository.Recent(ctx, userID, userRecentLimit)
}

// Retrieves the newest records of every user, or of userID when not empty
func (s *AnalyticsService) AdminRecent(ctx context.Context, userID string) ([]models.AuditRecord, error) {
	return s.repository.Recent(ctx, userID, adminRecentLimit)
}

func (s *AnalyticsService) UserSummary(ctx context.Context, userID string) (*UserSummary, error) {
	summary, err := s.repository.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &UserSummary{AuditSummary: *summary}

	top, err := s.repository.TopEndpoint(ctx, userID)
	switch {
	case err == nil:
		result.TopEndpoint = &top
	case errors.Is(err, repository.ErrNotFound):
		// No traffic yet
	default:
		return nil, err
	}

	return result, nil
}

func (s *AnalyticsService) AdminSummary(ctx context.Context, userID string) (*AdminSummary, error) {
	summary, err := s.repository.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}

	users, err := s.repository.DistinctUsers(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &AdminSummary{AuditSummary: *summary, ImpactedUsers: users}, nil
}
