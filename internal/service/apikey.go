package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	apiKeyPrefix   = "rl_"
	apiKeyCacheTTL = 5 * time.Minute
)

type APIKeyService struct {
	repository APIKeyStore
	redis      *storage.RedisClient
	logger     *slog.Logger
}

func NewAPIKeyService(repo APIKeyStore, redis *storage.RedisClient, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		redis:      redis,
		logger:     logger,
	}
}

// Issues a new key for the user, revoking the previous one.
// The plain key is returned only here; storage keeps its hash.
func (s *APIKeyService) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	key := apiKeyPrefix + hex.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		KeyHash:  hashKey(key),
		Prefix:   key[:len(apiKeyPrefix)+8],
		IsActive: true,
	}

	revoked, err := s.repository.Replace(ctx, userID, apiKey)
	if err != nil {
		return "", fmt.Errorf("failed to store API key: %w", err)
	}

	for _, hash := range revoked {
		s.invalidateCache(ctx, hash)
	}

	return key, nil
}

// Resolves a plain key to its active record
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)

	// Check cache first
	cacheKey := apiKeyCacheKey(keyHash)
	cached, err := s.redis.Get(ctx, cacheKey)
	if err == nil {
		var apiKey models.APIKey
		if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
			return &apiKey, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("api key cache unavailable", slog.Any("error", err))
	}

	// Cache miss - query database
	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	apiKeyJSON, _ := json.Marshal(apiKey)
	if err := s.redis.Set(ctx, cacheKey, apiKeyJSON, apiKeyCacheTTL); err != nil {
		s.logger.Warn("failed to cache api key", slog.Any("error", err))
	}

	return apiKey, nil
}

// Returns the active key of the user, or nil when none was issued
func (s *APIKeyService) ActiveKey(ctx context.Context, userID uuid.UUID) (*models.APIKey, error) {
	apiKey, err := s.repository.FindActiveByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return apiKey, err
}

// Records key usage; runs detached from the request so it can be called in a goroutine
func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
		s.logger.Warn("failed to update api key usage", slog.String("api_key_id", id.String()), slog.Any("error", err))
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, keyHash string) {
	if err := s.redis.Del(ctx, apiKeyCacheKey(keyHash)); err != nil {
		s.logger.Warn("failed to invalidate api key cache", slog.Any("error", err))
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func apiKeyCacheKey(keyHash string) string {
	return "apikey:cache:" + keyHash
}
