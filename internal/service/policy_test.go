package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/admission"
	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newPolicyService(t *testing.T) (*PolicyService, *mockUsers) {
	t.Helper()
	redisClient, _ := newTestRedis(t)
	users := new(mockUsers)
	return NewPolicyService(users, redisClient, time.Minute, discard), users
}

func testUser() *models.User {
	return &models.User{
		ID:        uuid.New(),
		Email:     "p@example.com",
		Tier:      models.TierPro,
		Algorithm: models.AlgorithmSlidingWindow,
		Denylist:  []string{"9.9.9.9"},
	}
}

func TestGetPolicyCachesAndCoalesces(t *testing.T) {
	svc, users := newPolicyService(t)
	user := testUser()
	id := user.ID.String()

	release := make(chan struct{})
	users.On("FindByID", mock.Anything, id).
		Run(func(mock.Arguments) { <-release }).
		Return(user, nil).
		Once()

	var wg sync.WaitGroup
	results := make([]*models.Policy, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.GetPolicy(context.Background(), id)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, models.TierPro, p.Tier)
		assert.Equal(t, []string{"9.9.9.9"}, p.Denylist)
	}

	// Served from the cache now
	p, err := svc.GetPolicy(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmSlidingWindow, p.Algorithm)
	users.AssertNumberOfCalls(t, "FindByID", 1)
}

func TestGetPolicyUnknownUser(t *testing.T) {
	svc, users := newPolicyService(t)
	users.On("FindByID", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)

	_, err := svc.GetPolicy(context.Background(), "ghost")
	assert.ErrorIs(t, err, admission.ErrPolicyNotFound)
}

func TestSetAlgorithmInvalidatesCache(t *testing.T) {
	svc, users := newPolicyService(t)
	user := testUser()
	id := user.ID.String()

	users.On("FindByID", mock.Anything, id).Return(user, nil)
	users.On("UpdateAlgorithm", mock.Anything, id, models.AlgorithmTokenBucket).
		Run(func(mock.Arguments) { user.Algorithm = models.AlgorithmTokenBucket }).
		Return(nil)

	_, err := svc.GetPolicy(context.Background(), id)
	require.NoError(t, err)

	updated, err := svc.SetAlgorithm(context.Background(), id, "TOKEN_BUCKET")
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmTokenBucket, updated.Algorithm)

	p, err := svc.GetPolicy(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmTokenBucket, p.Algorithm)
}

func TestLoadRacingAWriteDoesNotCacheOldPolicy(t *testing.T) {
	svc, users := newPolicyService(t)
	before := testUser()
	id := before.ID.String()

	after := *before
	after.Denylist = []string{"9.9.9.9", "6.6.6.6"}

	loading := make(chan struct{})
	release := make(chan struct{})
	users.On("FindByID", mock.Anything, id).
		Run(func(mock.Arguments) {
			close(loading)
			<-release
		}).
		Return(before, nil).
		Once()
	users.On("FindByID", mock.Anything, id).Return(&after, nil)
	users.On("AddAddress", mock.Anything, id, repository.Denylist, "6.6.6.6").Return(nil)

	done := make(chan *models.Policy, 1)
	go func() {
		p, err := svc.GetPolicy(context.Background(), id)
		assert.NoError(t, err)
		done <- p
	}()

	<-loading
	_, err := svc.UpdateAddressList(context.Background(), id, repository.Denylist, "6.6.6.6", "add")
	require.NoError(t, err)

	close(release)
	stale := <-done
	require.NotNil(t, stale)
	assert.Equal(t, []string{"9.9.9.9"}, stale.Denylist)

	p, err := svc.GetPolicy(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, p.Denylist, "6.6.6.6")
}

func TestSetAlgorithmAndTierValidation(t *testing.T) {
	svc, _ := newPolicyService(t)

	_, err := svc.SetAlgorithm(context.Background(), "id", "LEAKY_BUCKET")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Invalid algorithm", vErr.Message)

	_, err = svc.SetTier(context.Background(), "id", "pro")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Invalid tier value", vErr.Message)
}

func TestSetTierUnknownUser(t *testing.T) {
	svc, users := newPolicyService(t)
	users.On("UpdateTier", mock.Anything, "ghost", models.TierPro).Return(repository.ErrNotFound)

	_, err := svc.SetTier(context.Background(), "ghost", "PRO")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateAddressList(t *testing.T) {
	svc, users := newPolicyService(t)
	user := testUser()
	id := user.ID.String()
	users.On("FindByID", mock.Anything, id).Return(user, nil)
	users.On("AddAddress", mock.Anything, id, repository.Allowlist, "1.2.3.4").Return(nil)
	users.On("RemoveAddress", mock.Anything, id, repository.Denylist, "9.9.9.9").Return(nil)

	_, err := svc.UpdateAddressList(context.Background(), id, repository.Allowlist, " 1.2.3.4 ", "add")
	require.NoError(t, err)
	_, err = svc.UpdateAddressList(context.Background(), id, repository.Denylist, "9.9.9.9", "remove")
	require.NoError(t, err)

	_, err = svc.UpdateAddressList(context.Background(), id, repository.Denylist, "9.9.9.9", "toggle")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = svc.UpdateAddressList(context.Background(), id, repository.Denylist, "", "add")
	assert.ErrorAs(t, err, &vErr)

	users.AssertExpectations(t)
}

func TestValidateRule(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		in      RuleInput
		message string
	}{
		{"relative endpoint", RuleInput{Endpoint: "api/data"}, "Endpoint must start with '/'"},
		{"empty endpoint", RuleInput{Endpoint: "  "}, "Endpoint must start with '/'"},
		{"bad method", RuleInput{Endpoint: "/x", Method: "TRACE"}, "Invalid HTTP method"},
		{"zero cost", RuleInput{Endpoint: "/x", Cost: f(0)}, "Cost must be between 1 and 20"},
		{"cost above max", RuleInput{Endpoint: "/x", Cost: f(21)}, "Cost must be between 1 and 20"},
		{"fractional cost below one", RuleInput{Endpoint: "/x", Cost: f(0.9)}, "Cost must be between 1 and 20"},
		{"negative window limit", RuleInput{Endpoint: "/x", WindowLimit: f(-1)}, "windowLimit must be a positive integer"},
		{"short window", RuleInput{Endpoint: "/x", WindowMs: f(999)}, "windowMs must be at least 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateRule(tt.in)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.message, vErr.Message)
		})
	}

	rule, err := validateRule(RuleInput{Endpoint: " /x ", Method: "post", Cost: f(20.7), WindowLimit: f(8.2), WindowMs: f(1000)})
	require.NoError(t, err)
	assert.Equal(t, "/x", rule.Endpoint)
	assert.Equal(t, "POST", rule.Method)
	assert.Equal(t, 20.0, *rule.Cost)
	assert.Equal(t, 8, *rule.WindowLimit)
	assert.Equal(t, int64(1000), *rule.WindowMs)

	defaults, err := validateRule(RuleInput{Endpoint: "/x"})
	require.NoError(t, err)
	assert.Equal(t, "GET", defaults.Method)
	assert.Equal(t, 1.0, *defaults.Cost)
	assert.Nil(t, defaults.WindowLimit)
	assert.Nil(t, defaults.WindowMs)
}

func TestUpsertAndDeleteRule(t *testing.T) {
	svc, users := newPolicyService(t)
	user := testUser()
	id := user.ID.String()
	cost := 4.0

	users.On("FindByID", mock.Anything, id).Return(user, nil)
	users.On("UpsertCustomRule", mock.Anything, mock.MatchedBy(func(r *models.CustomRule) bool {
		return r.UserID == user.ID && r.Endpoint == "/x" && r.Method == "GET" && *r.Cost == cost
	})).
		Run(func(mock.Arguments) {
			user.CustomRules = []models.CustomRule{{UserID: user.ID, Endpoint: "/x", Method: "GET", Cost: &cost}}
		}).
		Return(nil)
	users.On("DeleteCustomRule", mock.Anything, id, "/x", "GET").
		Run(func(mock.Arguments) { user.CustomRules = nil }).
		Return(int64(1), nil)

	rules, err := svc.UpsertRule(context.Background(), id, RuleInput{Endpoint: "/x", Cost: &cost})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	rules, err = svc.DeleteRule(context.Background(), id, RuleInput{Endpoint: "/x", Method: "get"})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestUpsertRuleUnknownUser(t *testing.T) {
	svc, users := newPolicyService(t)
	users.On("FindByID", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)

	_, err := svc.UpsertRule(context.Background(), "ghost", RuleInput{Endpoint: "/x"})
	assert.True(t, errors.Is(err, ErrUserNotFound))
	users.AssertNotCalled(t, "UpsertCustomRule", mock.Anything, mock.Anything)
}
