package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatmod/chatmod/automod/setstore"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxInFlight:   4,
		QueueSize:     2,
		QueuePolicy:   QueueRejectNewest,
		RateLimit:     10,
		RateWindow:    60 * time.Second,
		RateRetention: 10 * time.Minute,
	}
}

func testController(t *testing.T, cfg Config) (*Controller, *time.Time) {
	c, err := NewController(cfg, nil, nil)
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestRateExceeded(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, now := testController(t, testConfig())
	start := *now

	for i := 0; i < 10; i++ {
		*now = start.Add(time.Duration(i) * time.Second)
		a, err := c.Admit(ctx, "u1")
		require.NoError(t, err)
		assert.False(a.RateExceeded, "message %d", i+1)
		a.Release()
	}

	*now = start.Add(10 * time.Second)
	a, err := c.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.True(a.RateExceeded)
	a.Release()

	// stays flagged for the rest of the window
	*now = start.Add(40 * time.Second)
	a, err = c.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.True(a.RateExceeded)
	a.Release()

	// other senders are unaffected
	a, err = c.Admit(ctx, "u2")
	require.NoError(t, err)
	assert.False(a.RateExceeded)
	a.Release()

	// well after the window, the sender is back under the limit
	*now = start.Add(5 * time.Minute)
	a, err = c.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.False(a.RateExceeded)
	a.Release()
}

func TestRateExceededAcrossMinuteBoundary(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, now := testController(t, testConfig())
	start := now.Add(58 * time.Second)

	var exceeded []bool
	for i := 0; i < 11; i++ {
		*now = start.Add(time.Duration(i) * 300 * time.Millisecond)
		a, err := c.Admit(ctx, "u1")
		require.NoError(t, err)
		exceeded = append(exceeded, a.RateExceeded)
		a.Release()
	}
	assert.Equal([]bool{false, false, false, false, false, false, false, false, false, false, true}, exceeded)
}

func TestRateExceededHoldsForWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, now := testController(t, testConfig())
	burst := now.Add(30*time.Second + 500*time.Millisecond)

	for i := 0; i < 11; i++ {
		*now = burst
		a, err := c.Admit(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(i == 10, a.RateExceeded, "message %d", i+1)
		a.Release()
	}

	// later messages inside the burst's window stay flagged, even across a minute boundary
	for _, offset := range []time.Duration{20 * time.Second, 35 * time.Second, 59 * time.Second} {
		*now = burst.Add(offset)
		a, err := c.Admit(ctx, "u1")
		require.NoError(t, err)
		assert.True(a.RateExceeded, "at +%s", offset)
		a.Release()
	}

	// nothing in the last minute
	*now = burst.Add(2 * time.Minute)
	a, err := c.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.False(a.RateExceeded)
	a.Release()
}

func TestRateStateObserve(t *testing.T) {
	assert := assert.New(t)
	st := newRateState(3)
	t0 := time.Date(2024, 5, 1, 12, 0, 59, 0, time.UTC)
	window := 10 * time.Second

	assert.False(st.observe(t0, window))
	assert.False(st.observe(t0.Add(time.Second), window))
	assert.False(st.observe(t0.Add(2*time.Second), window))
	// 4th message within 10s of the 1st
	assert.True(st.observe(t0.Add(9*time.Second), window))
	// exactly one window after the 2nd message: no longer inside it
	assert.False(st.observe(t0.Add(11*time.Second), window))
}

func TestTrustedSenders(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	trusted := setstore.NewMemSetStore()
	trusted.Put(TrustedSendersSet, []string{"mod-bot"})
	cfg := testConfig()
	cfg.RateLimit = 1
	c, err := NewController(cfg, trusted, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		a, err := c.Admit(ctx, "mod-bot")
		require.NoError(t, err)
		assert.False(a.RateExceeded)
		a.Release()
	}
}

func TestViolationsAndSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, now := testController(t, testConfig())

	a, err := c.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(0, a.Violations)
	a.Release()

	assert.Equal(1, c.RecordViolation("u1"))
	assert.Equal(2, c.RecordViolation("u1"))

	a, err = c.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(2, a.Violations)
	a.Release()

	stats, ok := c.SenderStats("u1")
	assert.True(ok)
	assert.Equal(2, stats.Violations)
	assert.Equal(*now, stats.LastSeen)

	// not yet idle long enough
	*now = now.Add(5 * time.Minute)
	assert.Equal(0, c.Sweep())

	*now = now.Add(6 * time.Minute)
	assert.Equal(1, c.Sweep())
	_, ok = c.SenderStats("u1")
	assert.False(ok)

	// fresh state after eviction
	a, err = c.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(0, a.Violations)
	a.Release()
}

func TestConcurrentSenderUpdates(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	cfg.MaxInFlight = 100
	c, _ := testController(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordViolation("u1")
			c.RecordViolation("u2")
		}()
	}
	wg.Wait()

	s1, _ := c.SenderStats("u1")
	s2, _ := c.SenderStats("u2")
	assert.Equal(50, s1.Violations)
	assert.Equal(50, s2.Violations)
}

func TestQueueReject(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxInFlight = 1
	cfg.QueueSize = 0
	cfg.QueuePolicy = QueueReject
	c, _ := testController(t, cfg)

	a1, err := c.Admit(ctx, "u1")
	require.NoError(t, err)

	_, err = c.Admit(ctx, "u2")
	assert.ErrorIs(err, ErrThrottled)

	a1.Release()
	// double release is harmless
	a1.Release()

	a2, err := c.Admit(ctx, "u2")
	assert.NoError(err)
	a2.Release()
}

type admitResult struct {
	a   *Admission
	err error
}

func admitAsync(c *Controller, ctx context.Context, sender string) chan admitResult {
	out := make(chan admitResult, 1)
	go func() {
		a, err := c.Admit(ctx, sender)
		out <- admitResult{a: a, err: err}
	}()
	return out
}

func waitDepth(t *testing.T, c *Controller, n int) {
	assert.Eventually(t, func() bool { return c.QueueDepth() == n }, time.Second, time.Millisecond)
}

func TestQueueRejectNewest(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxInFlight = 1
	cfg.QueueSize = 1
	cfg.QueuePolicy = QueueRejectNewest
	c, _ := testController(t, cfg)

	a1, err := c.Admit(ctx, "u1")
	require.NoError(t, err)

	queued := admitAsync(c, ctx, "u2")
	waitDepth(t, c, 1)

	_, err = c.Admit(ctx, "u3")
	assert.ErrorIs(err, ErrThrottled)

	a1.Release()
	res := <-queued
	assert.NoError(res.err)
	res.a.Release()
	assert.Equal(0, c.QueueDepth())
}

func TestQueueDropOldest(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxInFlight = 1
	cfg.QueueSize = 1
	cfg.QueuePolicy = QueueDropOldest
	c, _ := testController(t, cfg)

	a1, err := c.Admit(ctx, "u1")
	require.NoError(t, err)

	oldest := admitAsync(c, ctx, "u2")
	waitDepth(t, c, 1)

	newest := admitAsync(c, ctx, "u3")
	res := <-oldest
	assert.ErrorIs(res.err, ErrThrottled)
	waitDepth(t, c, 1)

	a1.Release()
	res = <-newest
	assert.NoError(res.err)
	res.a.Release()
}

func TestQueueDropOldestGrantedWaiter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxInFlight = 1
	cfg.QueueSize = 1
	cfg.QueuePolicy = QueueDropOldest
	c, _ := testController(t, cfg)
	dropped := throttledCount.WithLabelValues("dropped-oldest")
	before := testutil.ToFloat64(dropped)

	a1, err := c.Admit(ctx, "u1")
	require.NoError(t, err)

	// a waiter whose slot was granted but which has not yet left the queue; cancelling it has no effect
	granted := &waiter{cancel: func(error) {}}
	c.qmu.Lock()
	c.waiters.PushBack(granted)
	c.qmu.Unlock()

	newest := admitAsync(c, ctx, "u3")
	assert.Eventually(func() bool {
		c.qmu.Lock()
		defer c.qmu.Unlock()
		return c.waiters.Len() == 1 && c.waiters.Front().Value != granted
	}, time.Second, time.Millisecond)
	a1.Release()
	res := <-newest
	assert.NoError(res.err)
	res.a.Release()

	assert.Equal(before, testutil.ToFloat64(dropped))

	// a real eviction is counted once
	a1, err = c.Admit(ctx, "u1")
	require.NoError(t, err)
	oldest := admitAsync(c, ctx, "u2")
	waitDepth(t, c, 1)
	newest = admitAsync(c, ctx, "u3")
	res = <-oldest
	assert.ErrorIs(res.err, ErrThrottled)
	a1.Release()
	res = <-newest
	assert.NoError(res.err)
	res.a.Release()

	assert.Equal(before+1, testutil.ToFloat64(dropped))
}

func TestQueueFIFO(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxInFlight = 1
	cfg.QueueSize = 3
	c, _ := testController(t, cfg)

	a0, err := c.Admit(ctx, "u0")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for i, sender := range []string{"u1", "u2", "u3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := c.Admit(ctx, sender)
			if !assert.NoError(err) {
				return
			}
			mu.Lock()
			order = append(order, sender)
			mu.Unlock()
			a.Release()
		}()
		waitDepth(t, c, i+1)
	}

	a0.Release()
	wg.Wait()
	assert.Equal([]string{"u1", "u2", "u3"}, order)
}

func TestAdmitContextCanceled(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	cfg.MaxInFlight = 1
	c, _ := testController(t, cfg)

	a1, err := c.Admit(context.Background(), "u1")
	require.NoError(t, err)
	defer a1.Release()

	ctx, cancel := context.WithCancel(context.Background())
	waiting := admitAsync(c, ctx, "u2")
	waitDepth(t, c, 1)
	cancel()

	res := <-waiting
	assert.Error(res.err)
	assert.True(errors.Is(res.err, context.Canceled))
	assert.False(errors.Is(res.err, ErrThrottled))
	assert.Equal(0, c.QueueDepth())

	_, err = c.Admit(ctx, "u3")
	assert.ErrorIs(err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(testConfig().Validate())

	cfg := testConfig()
	cfg.MaxInFlight = 0
	assert.Error(cfg.Validate())

	cfg = testConfig()
	cfg.QueuePolicy = "lifo"
	assert.Error(cfg.Validate())

	cfg = testConfig()
	cfg.QueueSize = 0
	assert.Error(cfg.Validate())
	cfg.QueuePolicy = QueueReject
	assert.NoError(cfg.Validate())

	cfg = testConfig()
	cfg.RateLimit = MaxRateLimit + 1
	assert.Error(cfg.Validate())

	cfg = testConfig()
	cfg.RateRetention = time.Second
	assert.Error(cfg.Validate())

	_, err := ParseQueuePolicy("drop-oldest")
	assert.NoError(err)
}
