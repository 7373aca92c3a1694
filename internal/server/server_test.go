package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/api-ratelimiter/internal/admission"
	"github.com/aman-churiwal/api-ratelimiter/internal/config"
	"github.com/aman-churiwal/api-ratelimiter/internal/healthcheck"
	"github.com/aman-churiwal/api-ratelimiter/internal/metrics"
	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/ratelimit"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/aman-churiwal/api-ratelimiter/internal/service"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryUsers struct {
	service.UserStore
	users map[string]*models.User
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

type noKeys struct {
	service.APIKeyStore
}

func (noKeys) FindByHash(context.Context, string) (*models.APIKey, error) {
	return nil, repository.ErrNotFound
}

type testEnv struct {
	server *Server
	auth   *service.AuthService
	user   *models.User
	probe  *bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rdb := storage.NewRedisFromClient(client)

	user := &models.User{
		ID:        uuid.New(),
		Email:     "user@example.com",
		Role:      models.RoleUser,
		Tier:      models.TierFree,
		Algorithm: models.AlgorithmTokenBucket,
	}
	users := &memoryUsers{users: map[string]*models.User{user.ID.String(): user}}

	apiKeys := service.NewAPIKeyService(noKeys{}, rdb, discard)
	auth := service.NewAuthService(users, apiKeys, "secret", 1)
	policies := service.NewPolicyService(users, rdb, time.Minute, discard)

	reg := prometheus.NewRegistry()
	gate := admission.NewGate(admission.Config{
		Policies: policies,
		Limiters: ratelimit.NewLimiters(rdb),
		Recorder: metrics.New(reg),
		Logger:   discard,
	})

	redisUp := true
	checker := healthcheck.NewChecker(healthcheck.Config{
		Probes: []healthcheck.Probe{{Name: "redis", Check: func(context.Context) error {
			if !redisUp {
				return errors.New("down")
			}
			return nil
		}}},
		Logger: discard,
	})

	cfg := config.Default()
	cfg.Auth.JWTSecret = "secret"

	srv := New(cfg, Dependencies{
		Auth:      auth,
		APIKeys:   apiKeys,
		Policies:  policies,
		Analytics: service.NewAnalyticsService(nil),
		Gate:      gate,
		Health:    checker,
		Gatherer:  reg,
		Logger:    discard,
	})

	return &testEnv{server: srv, auth: auth, user: user, probe: &redisUp}
}

func (e *testEnv) request(t *testing.T, method, path string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if authenticated {
		token, err := e.auth.IssueToken(e.user)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.GetRouter().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.server.deps.Health.CheckAll(context.Background())

	w := env.request(t, http.MethodGet, "/health", false)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string                     `json:"status"`
		Services map[string]json.RawMessage `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Contains(t, body.Services, "redis")
	assert.Contains(t, body.Services, "circuit_breaker")

	*env.probe = false
	env.server.deps.Health.CheckAll(context.Background())

	w = env.request(t, http.MethodGet, "/health", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/data", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDataRouteIsRateLimited(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/data", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "TOKEN_BUCKET", w.Header().Get(admission.HeaderAlgorithm))
	assert.NotEmpty(t, w.Header().Get(admission.HeaderRemaining))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	metricsResp := env.request(t, http.MethodGet, "/metrics", false)
	require.Equal(t, http.StatusOK, metricsResp.Code)
	assert.Contains(t, metricsResp.Body.String(), "ratelimiter_decisions_total")
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/admin/users", true)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLimiterStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/limiter-status", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"CLOSED"`)
}

func TestServeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/health"
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
