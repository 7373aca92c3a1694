package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestRedis(t *testing.T) (*storage.RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return storage.NewRedisFromClient(client), mr
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) Create(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockUsers) List(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]models.User)
	return users, args.Error(1)
}

func (m *mockUsers) UpdateTier(ctx context.Context, id string, tier models.Tier) error {
	return m.Called(ctx, id, tier).Error(0)
}

func (m *mockUsers) UpdateAlgorithm(ctx context.Context, id string, algorithm models.Algorithm) error {
	return m.Called(ctx, id, algorithm).Error(0)
}

func (m *mockUsers) AddAddress(ctx context.Context, id string, list repository.AddressList, address string) error {
	return m.Called(ctx, id, list, address).Error(0)
}

func (m *mockUsers) RemoveAddress(ctx context.Context, id string, list repository.AddressList, address string) error {
	return m.Called(ctx, id, list, address).Error(0)
}

func (m *mockUsers) UpsertCustomRule(ctx context.Context, rule *models.CustomRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *mockUsers) DeleteCustomRule(ctx context.Context, userID, endpoint, method string) (int64, error) {
	args := m.Called(ctx, userID, endpoint, method)
	return args.Get(0).(int64), args.Error(1)
}

type mockKeys struct {
	mock.Mock
}

func (m *mockKeys) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	args := m.Called(ctx, hash)
	key, _ := args.Get(0).(*models.APIKey)
	return key, args.Error(1)
}

func (m *mockKeys) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.APIKey, error) {
	args := m.Called(ctx, userID)
	key, _ := args.Get(0).(*models.APIKey)
	return key, args.Error(1)
}

func (m *mockKeys) Replace(ctx context.Context, userID uuid.UUID, next *models.APIKey) ([]string, error) {
	args := m.Called(ctx, userID, next)
	hashes, _ := args.Get(0).([]string)
	return hashes, args.Error(1)
}

func (m *mockKeys) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Recent(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error) {
	args := m.Called(ctx, userID, limit)
	records, _ := args.Get(0).([]models.AuditRecord)
	return records, args.Error(1)
}

func (m *mockAudit) Summary(ctx context.Context, userID string) (*repository.AuditSummary, error) {
	args := m.Called(ctx, userID)
	summary, _ := args.Get(0).(*repository.AuditSummary)
	return summary, args.Error(1)
}

func (m *mockAudit) TopEndpoint(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockAudit) DistinctUsers(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}
