package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/admission"
	"github.com/aman-churiwal/api-ratelimiter/internal/config"
	"github.com/aman-churiwal/api-ratelimiter/internal/handler"
	"github.com/aman-churiwal/api-ratelimiter/internal/healthcheck"
	"github.com/aman-churiwal/api-ratelimiter/internal/middleware"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
)

// Everything the HTTP surface needs, built by main
type Dependencies struct {
	Auth      *service.AuthService
	APIKeys   *service.APIKeyService
	Policies  *service.PolicyService
	Analytics *service.AnalyticsService
	Gate      *admission.Gate
	Health    *healthcheck.Checker
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Dependencies
	logger     *slog.Logger
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg *config.Config, deps Dependencies) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		deps.Logger.Warn("ignoring invalid trusted proxies", slog.Any("error", err))
	}

	s := &Server{
		router:    router,
		config:    cfg,
		deps:      deps,
		logger:    deps.Logger,
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins))
}

func (s *Server) setupRoutes() {
	authHandler := handler.NewAuthHandler(s.deps.Auth, s.logger)
	settingsHandler := handler.NewSettingsHandler(s.deps.Policies, s.logger)
	adminHandler := handler.NewAdminHandler(s.deps.Policies, s.logger)
	analyticsHandler := handler.NewAnalyticsHandler(s.deps.Analytics, s.logger)
	systemHandler := handler.NewSystemHandler(s.deps.Gate)

	requireAuth := middleware.RequireAuth(s.deps.Auth, s.deps.APIKeys)
	rateLimit := middleware.RateLimit(s.deps.Gate, s.logger)

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.GET("/me", requireAuth, authHandler.Me)
		auth.POST("/rotate-api-key", requireAuth, authHandler.RotateAPIKey)
	}

	api := s.router.Group("/api", requireAuth)
	{
		api.GET("/data", rateLimit, handler.Data)
		api.GET("/heavy-data", rateLimit, handler.HeavyData)

		api.PUT("/settings/algorithm", settingsHandler.SetAlgorithm)
		api.PUT("/settings/rules", settingsHandler.UpsertRule)
		api.DELETE("/settings/rules", settingsHandler.DeleteRule)

		api.GET("/analytics", analyticsHandler.UserRecent)
		api.GET("/analytics/summary", analyticsHandler.UserSummary)

		api.GET("/limiter-status", systemHandler.LimiterStatus)
	}

	admin := s.router.Group("/admin", requireAuth, middleware.RequireAdmin(s.deps.Auth, s.logger))
	{
		admin.GET("/users", adminHandler.ListUsers)
		admin.PUT("/upgrade/:id", adminHandler.SetTier)
		admin.PUT("/users/:id/algorithm", adminHandler.SetAlgorithm)
		admin.PUT("/users/:id/whitelist", adminHandler.UpdateAllowlist)
		admin.PUT("/users/:id/blacklist", adminHandler.UpdateDenylist)

		admin.GET("/analytics", analyticsHandler.AdminRecent)
		admin.GET("/analytics/summary", analyticsHandler.AdminSummary)

		admin.POST("/circuit-breaker/reset", systemHandler.ResetCircuitBreaker)
	}
}

// Reports the last probe results; the limiter keeps serving in degraded mode,
// so only a fully unhealthy dependency set answers 503
func (s *Server) healthCheck(c *gin.Context) {
	overall := healthcheck.Healthy
	services := gin.H{}

	if s.deps.Health != nil {
		overall = s.deps.Health.OverallHealth()
		for name, status := range s.deps.Health.GetAllStatus() {
			services[name] = status
		}
	}
	if s.deps.Gate != nil {
		services["circuit_breaker"] = s.deps.Gate.BreakerStatus()
	}

	statusCode := http.StatusOK
	if overall == healthcheck.Unhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":     overall.String(),
		"uptime_sec": int64(time.Since(s.startTime).Seconds()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"services":   services,
	})
}

// Serves until ctx is done, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+s.config.Server.Port)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.config.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.Server.MaxConnections)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting rate limiter",
		slog.String("addr", listener.Addr().String()),
		slog.String("environment", s.config.Server.Environment),
		slog.Int("max_connections", s.config.Server.MaxConnections),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	return s.Shutdown(shutdownCtx)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
