package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"github.com/redis/go-redis/v9"
)

const bucketTTL = time.Hour

type bucketLimits struct {
	capacity   int
	refillRate int // Tokens per second
}

var tierBucketLimits = map[models.Tier]bucketLimits{
	models.TierFree:       {capacity: 10, refillRate: 1},
	models.TierPro:        {capacity: 50, refillRate: 5},
	models.TierEnterprise: {capacity: 200, refillRate: 20},
}

func bucketLimitsFor(tier models.Tier) bucketLimits {
	if l, ok := tierBucketLimits[tier]; ok {
		return l
	}
	return tierBucketLimits[models.TierFree]
}

type TokenBucket struct {
	redis *storage.RedisClient
	now   func() time.Time
}

type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"lastRefill"` // unix milliseconds
}

func NewTokenBucket(redis *storage.RedisClient, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	return &TokenBucket{
		redis: redis,
		now:   o.now,
	}
}

func bucketKey(userID string) string {
	return "bucket:" + userID
}

func (t *TokenBucket) Consume(ctx context.Context, userID string, tier models.Tier, d Directive) (Decision, error) {
	limits := bucketLimitsFor(tier)
	cost := max(d.Cost, MinCost)
	key := bucketKey(userID)

	var decision Decision
	err := t.redis.Transact(ctx, func(tx *redis.Tx) error {
		now := t.now().UnixMilli()

		state, err := loadBucket(ctx, tx, key, limits, now)
		if err != nil {
			return err
		}

		state.refill(limits, now)
		decision = state.take(cost, limits)

		// Persisted on deny as well: the refill above moved lastRefill
		payload, err := json.Marshal(state)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, bucketTTL)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, storage.ErrTxConflict) {
		return contendedDecision(models.AlgorithmTokenBucket, cost, intPtr(limits.capacity), intPtr(limits.refillRate)), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket %s: %w", key, err)
	}

	return decision, nil
}

func loadBucket(ctx context.Context, tx *redis.Tx, key string, limits bucketLimits, now int64) (*bucketState, error) {
	fresh := &bucketState{
		Tokens:     float64(limits.capacity),
		LastRefill: now,
	}

	data, err := tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// This is the first request
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}

	var state bucketState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		// Unreadable state only loses throttling history
		return fresh, nil
	}

	return &state, nil
}

// Adds whole elapsed seconds worth of tokens, capped at capacity
func (s *bucketState) refill(limits bucketLimits, now int64) {
	capacity := float64(limits.capacity)
	s.Tokens = math.Max(math.Min(s.Tokens, capacity), 0)

	elapsedSeconds := (now - s.LastRefill) / 1000
	if elapsedSeconds <= 0 {
		return
	}

	s.Tokens = math.Min(capacity, s.Tokens+float64(elapsedSeconds*int64(limits.refillRate)))
	s.LastRefill += elapsedSeconds * 1000

	// A full bucket does not bank time
	if s.Tokens >= capacity {
		s.LastRefill = now
	}
}

func (s *bucketState) take(cost int, limits bucketLimits) Decision {
	allowed := s.Tokens >= float64(cost)
	if allowed {
		s.Tokens -= float64(cost)
	}

	retryAfter := 0
	if !allowed {
		deficit := math.Max(float64(cost)-s.Tokens, 0)
		retryAfter = int(math.Ceil(deficit / float64(max(limits.refillRate, 1))))
	}

	return Decision{
		Allowed:       allowed,
		Algorithm:     models.AlgorithmTokenBucket,
		Cost:          cost,
		Remaining:     intPtr(int(math.Floor(s.Tokens))),
		Capacity:      intPtr(limits.capacity),
		RefillRate:    intPtr(limits.refillRate),
		RetryAfterSec: retryAfter,
	}
}
