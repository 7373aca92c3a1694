package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/circuitbreaker"
	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrPolicyNotFound is returned by a PolicyProvider when the caller has no account
var ErrPolicyNotFound = errors.New("policy not found")

const tracerName = "github.com/aman-churiwal/api-ratelimiter/internal/admission"

// Loads the rate limiting policy of a user
type PolicyProvider interface {
	GetPolicy(ctx context.Context, userID string) (*models.Policy, error)
}

// Receives one record per admission decision. Record must not block.
type AuditSink interface {
	Record(record models.AuditRecord)
}

// Observes decisions for metrics
type Recorder interface {
	ObserveDecision(algorithm, reason string, latency time.Duration)
}

type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomeDenied
	OutcomeForbidden
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Request describes one inbound API call
type Request struct {
	UserID    string
	Address   string
	Endpoint  string // path used for rule resolution
	Method    string
	URI       string // original request URI for the audit trail, Endpoint when empty
	UserAgent string
}

// Result is the gate's verdict. Decision and Directive are only set
// for OutcomeAllowed and OutcomeDenied.
type Result struct {
	Outcome   Outcome
	Message   string
	Reason    models.AuditReason
	Decision  ratelimit.Decision
	Directive ratelimit.Directive
}

type Config struct {
	Policies PolicyProvider
	Limiters *ratelimit.Limiters
	Breaker  *circuitbreaker.CircuitBreaker
	Audit    AuditSink // Optional
	Recorder Recorder  // Optional
	Logger   *slog.Logger
	Now      func() time.Time

	// Bounds each limiter round trip, 2s when zero
	StoreTimeout time.Duration
}

type Gate struct {
	policies PolicyProvider
	limiters *ratelimit.Limiters
	breaker  *circuitbreaker.CircuitBreaker
	audit    AuditSink
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer

	storeTimeout time.Duration
	degradedLog  rate.Sometimes
}

func NewGate(cfg Config) *Gate {
	if cfg.Audit == nil {
		cfg.Audit = discardSink{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New(circuitbreaker.Config{})
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}

	return &Gate{
		policies:     cfg.Policies,
		limiters:     cfg.Limiters,
		breaker:      cfg.Breaker,
		audit:        cfg.Audit,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		now:          cfg.Now,
		tracer:       otel.Tracer(tracerName),
		storeTimeout: cfg.StoreTimeout,
		degradedLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Admit decides whether req may proceed. An error is returned only when the
// policy could not be loaded; limiter store failures degrade to fail-open.
func (g *Gate) Admit(ctx context.Context, req Request) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "admission.Admit", trace.WithAttributes(
		attribute.String("ratelimit.user_id", req.UserID),
		attribute.String("http.method", req.Method),
		attribute.String("http.route", req.Endpoint),
	))
	defer span.End()

	start := g.now()

	policy, err := g.policies.GetPolicy(ctx, req.UserID)
	if errors.Is(err, ErrPolicyNotFound) {
		span.SetAttributes(attribute.String("admission.outcome", OutcomeNotFound.String()))
		return &Result{Outcome: OutcomeNotFound, Message: "User not found"}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy lookup failed")
		return nil, fmt.Errorf("load policy for %s: %w", req.UserID, err)
	}

	if policy.Denies(req.Address) {
		span.SetAttributes(attribute.String("admission.outcome", OutcomeForbidden.String()))
		return &Result{Outcome: OutcomeForbidden, Message: "IP Blacklisted"}, nil
	}
	if policy.NotAllowed(req.Address) {
		span.SetAttributes(attribute.String("admission.outcome", OutcomeForbidden.String()))
		return &Result{Outcome: OutcomeForbidden, Message: "IP Not Whitelisted"}, nil
	}

	directive := ratelimit.Resolve(policy, req.Endpoint, req.Method)

	decision := circuitbreaker.Execute(g.breaker, func() (ratelimit.Decision, error) {
		// Detached from the caller: only the store's own errors and timeouts count against the breaker
		consumeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.storeTimeout)
		defer cancel()
		return g.limiters.Consume(consumeCtx, req.UserID, policy.Tier, directive)
	}, func(err error) ratelimit.Decision {
		g.warnDegraded(req.UserID, err)
		return ratelimit.FallbackDecision(directive)
	})

	latency := g.now().Sub(start)
	reason := reasonFor(decision)

	result := &Result{
		Outcome:   OutcomeAllowed,
		Reason:    reason,
		Decision:  decision,
		Directive: directive,
	}
	if !decision.Allowed {
		result.Outcome = OutcomeDenied
		result.Message = "Rate limit exceeded"
	}

	g.audit.Record(models.AuditRecord{
		UserID:    req.UserID,
		Endpoint:  auditEndpoint(req),
		Method:    req.Method,
		Algorithm: decision.Algorithm,
		Cost:      directive.Cost,
		Allowed:   decision.Allowed,
		Reason:    reason,
		Address:   req.Address,
		UserAgent: req.UserAgent,
		LatencyMs: latency.Milliseconds(),
		Timestamp: start,
	})
	g.recorder.ObserveDecision(string(decision.Algorithm), string(reason), latency)

	span.SetAttributes(
		attribute.String("admission.outcome", result.Outcome.String()),
		attribute.String("ratelimit.algorithm", string(decision.Algorithm)),
		attribute.Int("ratelimit.cost", directive.Cost),
		attribute.Bool("ratelimit.degraded", decision.Degraded),
	)

	return result, nil
}

// Returns a snapshot of the breaker guarding the limiter store
func (g *Gate) BreakerStatus() circuitbreaker.Status {
	return g.breaker.Status()
}

// Forces the breaker back to CLOSED
func (g *Gate) ResetBreaker() {
	g.breaker.Reset()
	g.logger.Info("circuit breaker reset manually")
}

func (g *Gate) warnDegraded(userID string, err error) {
	g.degradedLog.Do(func() {
		attrs := []any{
			slog.String("user_id", userID),
			slog.String("breaker_state", g.breaker.State().String()),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		g.logger.Warn("rate limiter degraded, admitting without limits", attrs...)
	})
}

func reasonFor(d ratelimit.Decision) models.AuditReason {
	switch {
	case !d.Allowed:
		return models.ReasonRateLimitExceeded
	case d.Degraded:
		return models.ReasonCircuitBreakerFallback
	default:
		return models.ReasonAllowed
	}
}

func auditEndpoint(req Request) string {
	if req.URI != "" {
		return req.URI
	}
	return req.Endpoint
}

type discardSink struct{}

func (discardSink) Record(models.AuditRecord) {}

type noopRecorder struct{}

func (noopRecorder) ObserveDecision(string, string, time.Duration) {}
