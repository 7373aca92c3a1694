package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
)

type options struct {
	now func() time.Time
}

type Option func(*options)

// Overrides the clock used to timestamp bucket refills and window entries
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Limiters holds one instance of each supported algorithm and dispatches on the directive
type Limiters struct {
	tokenBucket   *TokenBucket
	slidingWindow *SlidingWindowLimiter
}

func NewLimiters(redis *storage.RedisClient, opts ...Option) *Limiters {
	return &Limiters{
		tokenBucket:   NewTokenBucket(redis, opts...),
		slidingWindow: NewSlidingWindowLimiter(redis, opts...),
	}
}

// Returns the limiter implementing the algorithm, token bucket for anything unknown
func (l *Limiters) For(algorithm models.Algorithm) Limiter {
	switch algorithm {
	case models.AlgorithmSlidingWindow:
		return l.slidingWindow
	default:
		return l.tokenBucket
	}
}

func (l *Limiters) Consume(ctx context.Context, userID string, tier models.Tier, d Directive) (Decision, error) {
	return l.For(d.Algorithm).Consume(ctx, userID, tier, d)
}
