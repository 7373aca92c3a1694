package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStore = errors.New("store unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(Config{FailureThreshold: threshold, ResetTimeout: timeout, Now: clock.Now}), clock
}

func failing() error    { return errStore }
func succeeding() error { return nil }

func TestNewAppliesDefaults(t *testing.T) {
	cb := New(Config{})
	status := cb.Status()

	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 0, status.FailureCount)
	assert.Equal(t, int64(10000), status.ResetTimeoutMs)
	assert.Equal(t, 5, cb.failureThreshold)
}

func TestOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Call(failing), errStore)
		assert.Equal(t, StateClosed, cb.State())
	}

	assert.ErrorIs(t, cb.Call(failing), errStore)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, cb.Status().FailureCount)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.Call(failing)
	cb.Call(failing)
	require.NoError(t, cb.Call(succeeding))
	assert.Equal(t, 0, cb.Status().FailureCount)

	cb.Call(failing)
	cb.Call(failing)
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpenCircuitShortCircuits(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)
	cb.Call(failing)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// Exactly at the timeout the circuit is still open
	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, cb.Call(succeeding), ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	cb, clock := newTestBreaker(5, 10*time.Second)
	for i := 0; i < 5; i++ {
		cb.Call(failing)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(10*time.Second + time.Millisecond)
	require.NoError(t, cb.Call(succeeding))

	status := cb.Status()
	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 0, status.FailureCount)
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)
	cb.Call(failing)
	cb.Call(failing)

	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, cb.Call(failing), errStore)

	status := cb.Status()
	assert.Equal(t, StateOpen, status.State)
	assert.Equal(t, 3, status.FailureCount)
	assert.Equal(t, clock.Now(), status.LastFailureTime)

	// lastFailure was refreshed, so the timeout starts over
	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Call(succeeding), ErrCircuitOpen)
}

func TestHalfOpenAllowsSingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.Call(failing)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- cb.Call(func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Call(succeeding), ErrCircuitOpen, "second caller must not reach the store during the trial")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestPanickingTrialReopensAndAllowsNextTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.Call(failing)
	clock.Advance(2 * time.Second)

	assert.PanicsWithValue(t, "boom", func() {
		cb.Call(func() error { panic("boom") })
	})

	status := cb.Status()
	assert.Equal(t, StateOpen, status.State)
	assert.False(t, cb.trialInFlight)

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Call(succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestPanicInClosedStateCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	assert.Panics(t, func() {
		cb.Call(func() error { panic("boom") })
	})
	assert.Equal(t, 1, cb.Status().FailureCount)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute(t *testing.T) {
	t.Run("returns action result on success", func(t *testing.T) {
		cb, _ := newTestBreaker(1, time.Second)
		got := Execute(cb, func() (string, error) { return "primary", nil }, func(error) string { return "fallback" })
		assert.Equal(t, "primary", got)
	})

	t.Run("passes action error to fallback", func(t *testing.T) {
		cb, _ := newTestBreaker(5, time.Second)
		var seen error
		got := Execute(cb, func() (string, error) { return "", errStore }, func(err error) string {
			seen = err
			return "fallback"
		})
		assert.Equal(t, "fallback", got)
		assert.ErrorIs(t, seen, errStore)
	})

	t.Run("short-circuited fallback gets no error", func(t *testing.T) {
		cb, _ := newTestBreaker(1, time.Minute)
		cb.Call(failing)

		actionCalled := false
		seen := errors.New("sentinel")
		got := Execute(cb, func() (int, error) {
			actionCalled = true
			return 1, nil
		}, func(err error) int {
			seen = err
			return -1
		})

		assert.Equal(t, -1, got)
		assert.False(t, actionCalled)
		assert.NoError(t, seen)
	})
}

func TestStateChangeHook(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New(Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.Call(failing)
	clock.Advance(2 * time.Second)
	cb.Call(succeeding)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestReset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.Call(failing)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(succeeding))
}

func TestStatusDoesNotTransition(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.Call(failing)
	clock.Advance(time.Minute)

	assert.Equal(t, StateOpen, cb.Status().State)
	assert.Equal(t, StateOpen, cb.State())
}
