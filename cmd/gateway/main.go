package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/admission"
	"github.com/aman-churiwal/api-ratelimiter/internal/audit"
	"github.com/aman-churiwal/api-ratelimiter/internal/circuitbreaker"
	"github.com/aman-churiwal/api-ratelimiter/internal/config"
	"github.com/aman-churiwal/api-ratelimiter/internal/healthcheck"
	"github.com/aman-churiwal/api-ratelimiter/internal/logging"
	"github.com/aman-churiwal/api-ratelimiter/internal/metrics"
	"github.com/aman-churiwal/api-ratelimiter/internal/ratelimit"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/aman-churiwal/api-ratelimiter/internal/server"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const retentionInterval = time.Hour

func main() {
	// Load env if it exists
	godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.Server.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("rate limiter exited with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redis, err := storage.NewRedis(storage.RedisOptions{
		Addr:         cfg.Redis.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  millis(cfg.Redis.DialTimeoutMs),
		ReadTimeout:  millis(cfg.Redis.ReadTimeoutMs),
		WriteTimeout: millis(cfg.Redis.WriteTimeoutMs),
	})
	if err != nil {
		return err
	}
	defer redis.Close()
	logger.Info("connected to redis", slog.String("addr", cfg.Redis.GetRedisAddr()))

	postgres, err := storage.NewPostgres(cfg.Database.DSN, storage.ParseLogLevel(cfg.Database.LogLevel))
	if err != nil {
		return err
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		return err
	}
	logger.Info("connected to postgres")

	m := metrics.New(prometheus.DefaultRegisterer)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     millis(cfg.CircuitBreaker.ResetTimeoutMs),
		OnStateChange: func(from, to circuitbreaker.State) {
			m.ObserveBreakerTransition(from, to)
			logger.Warn("circuit breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	userRepo := repository.NewUserRepository(postgres)
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	auditRepo := repository.NewAuditRepository(postgres)

	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis, logger)
	authService := service.NewAuthService(userRepo, apiKeyService, cfg.Auth.JWTSecret, cfg.Auth.JWTExpiryHours)
	policyService := service.NewPolicyService(userRepo, redis, millis(cfg.Redis.PolicyCacheMs), logger)
	analyticsService := service.NewAnalyticsService(auditRepo)

	sinks, err := buildAuditSinks(cfg.Audit, auditRepo, logger, m)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// The audit pipeline outlives the HTTP server so requests drained during
	// shutdown are still recorded
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAudit()

	if sinks.writer != nil {
		g.Go(func() error { return sinks.writer.Run(auditCtx) })
	}

	if sinks.publisher != nil {
		g.Go(func() error {
			<-auditCtx.Done()
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sinks.publisher.Close(closeCtx)
		})
	}

	gate := admission.NewGate(admission.Config{
		Policies: policyService,
		Limiters: ratelimit.NewLimiters(redis),
		Breaker:  breaker,
		Audit:    sinks.fanout,
		Recorder: m,
		Logger:   logger,
	})

	checker := healthcheck.NewChecker(healthcheck.Config{
		Probes: []healthcheck.Probe{
			healthcheck.PingProbe("redis", redis),
			healthcheck.PingProbe("postgres", postgres),
		},
		Interval: millis(cfg.Health.IntervalMs),
		Timeout:  millis(cfg.Health.TimeoutMs),
		Logger:   logger,
	})

	srv := server.New(cfg, server.Dependencies{
		Auth:      authService,
		APIKeys:   apiKeyService,
		Policies:  policyService,
		Analytics: analyticsService,
		Gate:      gate,
		Health:    checker,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    logger,
	})

	g.Go(func() error {
		defer stopAudit()
		return srv.Run(ctx)
	})

	g.Go(func() error { return checker.Run(ctx) })

	if cfg.Audit.RetentionDays > 0 {
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return audit.RunRetention(ctx, auditRepo, retention, retentionInterval, logger)
		})
	}

	return g.Wait()
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
