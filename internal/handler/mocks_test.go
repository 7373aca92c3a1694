package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/aman-churiwal/api-ratelimiter/internal/circuitbreaker"
	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/stretchr/testify/mock"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockAccounts struct{ mock.Mock }

func (m *mockAccounts) Register(ctx context.Context, email, password string) (*models.User, string, error) {
	args := m.Called(ctx, email, password)
	user, _ := args.Get(0).(*models.User)
	return user, args.String(1), args.Error(2)
}

func (m *mockAccounts) Login(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Error(1)
}

func (m *mockAccounts) Me(ctx context.Context, id string) (*service.Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*service.Profile)
	return profile, args.Error(1)
}

func (m *mockAccounts) RotateAPIKey(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type mockPolicies struct{ mock.Mock }

func (m *mockPolicies) ListUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]models.User)
	return users, args.Error(1)
}

func (m *mockPolicies) SetAlgorithm(ctx context.Context, userID, algorithm string) (*models.User, error) {
	args := m.Called(ctx, userID, algorithm)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockPolicies) SetTier(ctx context.Context, userID, tier string) (*models.User, error) {
	args := m.Called(ctx, userID, tier)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockPolicies) UpdateAddressList(ctx context.Context, userID string, list repository.AddressList, address, action string) (*models.User, error) {
	args := m.Called(ctx, userID, list, address, action)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockPolicies) UpsertRule(ctx context.Context, userID string, in service.RuleInput) ([]models.CustomRule, error) {
	args := m.Called(ctx, userID, in)
	rules, _ := args.Get(0).([]models.CustomRule)
	return rules, args.Error(1)
}

func (m *mockPolicies) DeleteRule(ctx context.Context, userID string, in service.RuleInput) ([]models.CustomRule, error) {
	args := m.Called(ctx, userID, in)
	rules, _ := args.Get(0).([]models.CustomRule)
	return rules, args.Error(1)
}

type mockAnalytics struct{ mock.Mock }

func (m *mockAnalytics) UserRecent(ctx context.Context, userID string) ([]models.AuditRecord, error) {
	args := m.Called(ctx, userID)
	records, _ := args.Get(0).([]models.AuditRecord)
	return records, args.Error(1)
}

func (m *mockAnalytics) AdminRecent(ctx context.Context, userID string) ([]models.AuditRecord, error) {
	args := m.Called(ctx, userID)
	records, _ := args.Get(0).([]models.AuditRecord)
	return records, args.Error(1)
}

func (m *mockAnalytics) UserSummary(ctx context.Context, userID string) (*service.UserSummary, error) {
	args := m.Called(ctx, userID)
	summary, _ := args.Get(0).(*service.UserSummary)
	return summary, args.Error(1)
}

func (m *mockAnalytics) AdminSummary(ctx context.Context, userID string) (*service.AdminSummary, error) {
	args := m.Called(ctx, userID)
	summary, _ := args.Get(0).(*service.AdminSummary)
	return summary, args.Error(1)
}

type fakeBreaker struct {
	status circuitbreaker.Status
	resets int
}

func (f *fakeBreaker) BreakerStatus() circuitbreaker.Status { return f.status }

func (f *fakeBreaker) ResetBreaker() {
	f.resets++
	f.status.State = circuitbreaker.StateClosed
	f.status.FailureCount = 0
}
