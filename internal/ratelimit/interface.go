package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
)

// Directive holds the limiting parameters resolved for a single request
type Directive struct {
	Algorithm   models.Algorithm
	Cost        int
	WindowLimit int
	Window      time.Duration
}

// Decision is the outcome of one limiter invocation.
// Nil Remaining, Capacity and RefillRate mean the value is unknown (degraded mode).
type Decision struct {
	Allowed       bool             `json:"allowed"`
	Algorithm     models.Algorithm `json:"algorithm"`
	Cost          int              `json:"cost"`
	Remaining     *int             `json:"remaining"`
	Capacity      *int             `json:"capacity"`
	RefillRate    *int             `json:"refill_rate"`
	RetryAfterSec int              `json:"retry_after_sec"`
	Degraded      bool             `json:"degraded"`
}

type Limiter interface {
	// Consumes d.Cost units from the user's allowance
	Consume(ctx context.Context, userID string, tier models.Tier, d Directive) (Decision, error)
}

// Builds the fail-open decision used when the shared store cannot be trusted
func FallbackDecision(d Directive) Decision {
	return Decision{
		Allowed:       true,
		Algorithm:     d.Algorithm,
		Cost:          d.Cost,
		RetryAfterSec: 0,
		Degraded:      true,
	}
}

// A key that keeps losing its optimistic transaction is being hammered by its
// own user; that is answered with a short denial rather than a store failure.
func contendedDecision(algorithm models.Algorithm, cost int, capacity, refillRate *int) Decision {
	return Decision{
		Allowed:       false,
		Algorithm:     algorithm,
		Cost:          cost,
		Remaining:     intPtr(0),
		Capacity:      capacity,
		RefillRate:    refillRate,
		RetryAfterSec: 1,
	}
}

func intPtr(v int) *int {
	return &v
}
