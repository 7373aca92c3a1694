package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/admission"
	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const defaultPolicyCacheTTL = 30 * time.Second

var ruleMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// RuleInput is a custom rule as submitted by a user. Numbers arrive as
// JSON numbers and are floored to integers before validation.
type RuleInput struct {
	Endpoint    string   `json:"endpoint"`
	Method      string   `json:"method"`
	Cost        *float64 `json:"cost"`
	WindowLimit *float64 `json:"window_limit"`
	WindowMs    *float64 `json:"window_ms"`
}

// PolicyService owns reads and writes of user rate limiting policies.
// Reads are served from a short lived Redis cache that every write invalidates.
type PolicyService struct {
	users  UserStore
	redis  *storage.RedisClient
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewPolicyService(users UserStore, redis *storage.RedisClient, ttl time.Duration, logger *slog.Logger) *PolicyService {
	if ttl <= 0 {
		ttl = defaultPolicyCacheTTL
	}
	return &PolicyService{
		users:  users,
		redis:  redis,
		ttl:    ttl,
		logger: logger,
	}
}

func policyCacheKey(userID string) string {
	return "policy:cache:" + userID
}

// Bumped on every write so a load that raced with it does not cache the old row
func policyVersionKey(userID string) string {
	return "policy:version:" + userID
}

var errStalePolicy = errors.New("policy changed while loading")

func (s *PolicyService) policyVersion(ctx context.Context, userID string) (int64, error) {
	raw, err := s.redis.Get(ctx, policyVersionKey(userID))
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Caches policy only if no write bumped the user's version since it was read
func (s *PolicyService) cachePolicy(ctx context.Context, userID string, version int64, policy *models.Policy) {
	payload, err := json.Marshal(policy)
	if err != nil {
		return
	}

	versionKey := policyVersionKey(userID)
	err = s.redis.Transact(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStalePolicy
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, policyCacheKey(userID), payload, s.ttl)
			return nil
		})
		return err
	}, versionKey)
	if err != nil && !errors.Is(err, errStalePolicy) {
		s.logger.Debug("failed to cache policy", slog.Any("error", err))
	}
}

// GetPolicy implements admission.PolicyProvider
func (s *PolicyService) GetPolicy(ctx context.Context, userID string) (*models.Policy, error) {
	cacheKey := policyCacheKey(userID)

	cached, err := s.redis.Get(ctx, cacheKey)
	if err == nil {
		var policy models.Policy
		if err := json.Unmarshal([]byte(cached), &policy); err == nil {
			return &policy, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Debug("policy cache unavailable", slog.Any("error", err))
	}

	// Concurrent misses for one user share a single database read
	v, err, _ := s.group.Do(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		version, versionErr := s.policyVersion(loadCtx, userID)

		user, err := s.users.FindByID(loadCtx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, admission.ErrPolicyNotFound
		}
		if err != nil {
			return nil, err
		}

		policy := user.Policy()
		if versionErr == nil {
			s.cachePolicy(loadCtx, userID, version, policy)
		}
		return policy, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*models.Policy), nil
}

func (s *PolicyService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

func (s *PolicyService) SetAlgorithm(ctx context.Context, userID, algorithm string) (*models.User, error) {
	alg := models.Algorithm(algorithm)
	if !alg.Valid() {
		return nil, invalid("algorithm", "Invalid algorithm")
	}

	return s.mutate(ctx, userID, func() error {
		return s.users.UpdateAlgorithm(ctx, userID, alg)
	})
}

func (s *PolicyService) SetTier(ctx context.Context, userID, tier string) (*models.User, error) {
	t := models.Tier(tier)
	if !t.Valid() {
		return nil, invalid("tier", "Invalid tier value")
	}

	return s.mutate(ctx, userID, func() error {
		return s.users.UpdateTier(ctx, userID, t)
	})
}

// Adds or removes an address on the user's allowlist or denylist
func (s *PolicyService) UpdateAddressList(ctx context.Context, userID string, list repository.AddressList, address, action string) (*models.User, error) {
	address = strings.TrimSpace(address)
	if address == "" || (action != "add" && action != "remove") {
		return nil, invalid("ip", "Provide valid ip and action(add/remove)")
	}

	return s.mutate(ctx, userID, func() error {
		if action == "add" {
			return s.users.AddAddress(ctx, userID, list, address)
		}
		return s.users.RemoveAddress(ctx, userID, list, address)
	})
}

// Validates and stores a custom rule, replacing any rule for the same endpoint and method
func (s *PolicyService) UpsertRule(ctx context.Context, userID string, in RuleInput) ([]models.CustomRule, error) {
	rule, err := validateRule(in)
	if err != nil {
		return nil, err
	}

	user, err := s.mutate(ctx, userID, func() error {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		rule.UserID = user.ID
		return s.users.UpsertCustomRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}

	return user.CustomRules, nil
}

// Removes the custom rule for an endpoint and method; removing a missing rule is not an error
func (s *PolicyService) DeleteRule(ctx context.Context, userID string, in RuleInput) ([]models.CustomRule, error) {
	endpoint, method, err := validateRoute(in.Endpoint, in.Method)
	if err != nil {
		return nil, err
	}

	user, err := s.mutate(ctx, userID, func() error {
		if _, err := s.users.FindByID(ctx, userID); err != nil {
			return err
		}
		_, err := s.users.DeleteCustomRule(ctx, userID, endpoint, method)
		return err
	})
	if err != nil {
		return nil, err
	}

	return user.CustomRules, nil
}

// Applies a write, drops the cached policy and returns the fresh user record
func (s *PolicyService) mutate(ctx context.Context, userID string, write func() error) (*models.User, error) {
	if err := write(); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	s.Invalidate(ctx, userID)

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reload user %s: %w", userID, err)
	}

	return user, nil
}

// Drops the cached policy of the user and fences off loads already in flight
func (s *PolicyService) Invalidate(ctx context.Context, userID string) {
	if _, err := s.redis.Incr(ctx, policyVersionKey(userID)); err != nil {
		s.logger.Warn("failed to bump policy version",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
	if err := s.redis.Del(ctx, policyCacheKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate policy cache",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

func validateRoute(endpoint, method string) (string, string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "/") {
		return "", "", invalid("endpoint", "Endpoint must start with '/'")
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	if !slices.Contains(ruleMethods, method) {
		return "", "", invalid("method", "Invalid HTTP method")
	}

	return endpoint, method, nil
}

func validateRule(in RuleInput) (*models.CustomRule, error) {
	endpoint, method, err := validateRoute(in.Endpoint, in.Method)
	if err != nil {
		return nil, err
	}

	cost := 1
	if in.Cost != nil {
		cost = positiveInt(*in.Cost)
	}
	if cost < 1 || cost > 20 {
		return nil, invalid("cost", "Cost must be between 1 and 20")
	}

	rule := &models.CustomRule{
		Endpoint: endpoint,
		Method:   method,
		Cost:     floatPtr(float64(cost)),
	}

	if in.WindowLimit != nil {
		limit := positiveInt(*in.WindowLimit)
		if limit < 1 {
			return nil, invalid("window_limit", "windowLimit must be a positive integer")
		}
		rule.WindowLimit = &limit
	}

	if in.WindowMs != nil {
		windowMs := positiveInt(*in.WindowMs)
		if windowMs < 1000 {
			return nil, invalid("window_ms", "windowMs must be at least 1000")
		}
		ms := int64(windowMs)
		rule.WindowMs = &ms
	}

	return rule, nil
}

// Floors v; anything that is not a finite positive integer after flooring yields 0
func positiveInt(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f := math.Floor(v)
	if f < 1 || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func floatPtr(v float64) *float64 {
	return &v
}
