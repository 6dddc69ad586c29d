package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }

func succeedingOp(context.Context) error { return nil }

// fakeClock drives the breaker's open->half_open transition in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
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

func newTestBreaker(threshold int, openTimeout time.Duration) (*Breaker, *fakeClock) {
	b := NewBreaker("accounts", BreakerConfig{Threshold: threshold, OpenTimeout: openTimeout})
	clock := newFakeClock()
	b.now = clock.Now
	return b, clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.Execute(ctx, failingOp)
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, b.State())
	}

	err := b.Execute(ctx, failingOp)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerFailsFastWithoutInvokingOp(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})

	var boe *BreakerOpenError
	require.ErrorAs(t, err, &boe)
	assert.Equal(t, "accounts", boe.Dependency)
	assert.False(t, invoked, "open breaker must not invoke the operation")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	require.Error(t, b.Execute(ctx, failingOp))
	assert.Equal(t, 2, b.Failures())

	require.NoError(t, b.Execute(ctx, succeedingOp))
	assert.Equal(t, 0, b.Failures())

	// A fresh run of failures is needed to open again.
	require.Error(t, b.Execute(ctx, failingOp))
	require.Error(t, b.Execute(ctx, failingOp))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	require.Equal(t, StateOpen, b.State())

	clock.Advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, succeedingOp))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	clock.Advance(31 * time.Second)

	require.ErrorIs(t, b.Execute(ctx, failingOp), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Cooldown restarts from the trial failure.
	clock.Advance(15 * time.Second)
	var boe *BreakerOpenError
	require.ErrorAs(t, b.Execute(ctx, succeedingOp), &boe)
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingOp))
	clock.Advance(31 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Second caller arrives while the trial is in flight.
	var rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(ctx, succeedingOp)
			var boe *BreakerOpenError
			if errors.As(err, &boe) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(4), rejected.Load(), "only one half-open trial may run")

	close(release)
}

func TestRegistryReturnsSameBreakerPerName(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig)

	a := r.Get("accounts")
	b := r.Get("payments")
	assert.NotSame(t, a, b)
	assert.Same(t, a, r.Get("accounts"))
}

func TestRegistryStates(t *testing.T) {
	r := NewRegistry(BreakerConfig{Threshold: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	require.Error(t, r.Get("payments").Execute(ctx, failingOp))
	r.Get("accounts")

	states := r.States()
	assert.Equal(t, "open", states["payments"])
	assert.Equal(t, "closed", states["accounts"])
}
