package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter counts consumed units exactly over a trailing window.
// The log is a sorted set holding one member per unit, scored by its timestamp in ms.
type SlidingWindowLimiter struct {
	redis *storage.RedisClient
	now   func() time.Time
}

func NewSlidingWindowLimiter(redis *storage.RedisClient, opts ...Option) *SlidingWindowLimiter {
	o := buildOptions(opts)
	return &SlidingWindowLimiter{
		redis: redis,
		now:   o.now,
	}
}

func windowKey(userID string) string {
	return "window:" + userID
}

func (s *SlidingWindowLimiter) Consume(ctx context.Context, userID string, tier models.Tier, d Directive) (Decision, error) {
	defaults := windowDefaultsFor(tier)
	limit := d.WindowLimit
	if limit < 1 {
		limit = defaults.limit
	}
	window := d.Window
	if window < MinWindow {
		window = defaults.window
	}
	cost := max(d.Cost, MinCost)
	key := windowKey(userID)

	var decision Decision
	err := s.redis.Transact(ctx, func(tx *redis.Tx) error {
		now := s.now().UnixMilli()
		windowMs := window.Milliseconds()
		cutoff := strconv.FormatInt(now-windowMs, 10)
		live := "(" + cutoff

		countBefore, err := tx.ZCount(ctx, key, live, "+inf").Result()
		if err != nil {
			return err
		}

		allowed := int(countBefore)+cost <= limit
		countAfter := int(countBefore)
		retryAfter := 0

		if allowed {
			countAfter += cost
		} else {
			oldest, err := tx.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
				Min:   live,
				Max:   "+inf",
				Count: 1,
			}).Result()
			if err != nil {
				return err
			}
			if len(oldest) > 0 {
				elapsed := now - int64(oldest[0].Score)
				retryAfter = max(int(math.Ceil(float64(windowMs-elapsed)/1000)), 1)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// Remove old entries
			pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
			if allowed {
				pipe.ZAdd(ctx, key, windowEntries(now, cost)...)
				pipe.PExpire(ctx, key, window)
			}
			return nil
		})
		if err != nil {
			return err
		}

		decision = Decision{
			Allowed:       allowed,
			Algorithm:     models.AlgorithmSlidingWindow,
			Cost:          cost,
			Remaining:     intPtr(max(limit-countAfter, 0)),
			Capacity:      intPtr(limit),
			RetryAfterSec: retryAfter,
		}
		return nil
	}, key)

	if errors.Is(err, storage.ErrTxConflict) {
		return contendedDecision(models.AlgorithmSlidingWindow, cost, intPtr(limit), nil), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("sliding window %s: %w", key, err)
	}

	return decision, nil
}

// One member per unit of cost; the uuid keeps members at the same timestamp distinct
func windowEntries(now int64, cost int) []redis.Z {
	entries := make([]redis.Z, 0, cost)
	for i := 0; i < cost; i++ {
		entries = append(entries, redis.Z{
			Score:  float64(now),
			Member: fmt.Sprintf("%d-%d-%s", now, i, uuid.NewString()),
		})
	}
	return entries
}
