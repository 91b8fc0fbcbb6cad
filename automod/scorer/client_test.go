package scorer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatmod/chatmod/automod/cachestore"
	"github.com/chatmod/chatmod/automod/event"

	"github.com/stretchr/testify/assert"
)

func testClientConfig() ClientConfig {
	return ClientConfig{
		Name:    "test",
		Timeout: 50 * time.Millisecond,
		Breaker: BreakerConfig{
			Threshold: 2,
			Window:    time.Minute,
			Cooldown:  time.Hour,
		},
	}
}

func TestClientScore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var calls atomic.Int32
	oracle := OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		calls.Add(1)
		if strings.Contains(text, "idiot") {
			return &Result{Label: "insult", Probability: 0.92}, nil
		}
		return &Result{Label: "non-toxic", Probability: 0.03}, nil
	})
	c, err := NewClient(oracle, testClientConfig(), nil, nil)
	assert.NoError(err)
	assert.Equal(event.KindToxicity, c.Kind())

	sig := c.Score(ctx, "you are an idiot")
	assert.True(sig.Valid)
	assert.Equal(0.92, sig.Score)
	assert.Equal("insult", sig.Label)

	sig = c.Signal(ctx, &event.Message{Text: "nice weather"})
	assert.True(sig.Valid)
	assert.Equal(0.03, sig.Score)
	assert.Equal(int32(2), calls.Load())

	// blank text never reaches the oracle
	sig = c.Score(ctx, "   \n\t ")
	assert.True(sig.Valid)
	assert.Equal(0.0, sig.Score)
	assert.Equal(int32(2), calls.Load())
}

func TestClientTimeout(t *testing.T) {
	assert := assert.New(t)

	release := make(chan struct{})
	defer close(release)
	oracle := OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		// ignores its context on purpose
		<-release
		return &Result{Probability: 0.5}, nil
	})
	c, err := NewClient(oracle, testClientConfig(), nil, nil)
	assert.NoError(err)

	start := time.Now()
	sig := c.Score(context.Background(), "hello")
	assert.Less(time.Since(start), 500*time.Millisecond)
	assert.False(sig.Valid)
	assert.Equal(ErrScoringTimeout.Error(), sig.Err)
}

func TestClientBreakerShortCircuit(t *testing.T) {
	assert := assert.New(t)

	var calls atomic.Int32
	oracle := OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		calls.Add(1)
		return nil, errors.New("model server on fire")
	})
	c, err := NewClient(oracle, testClientConfig(), nil, nil)
	assert.NoError(err)

	for range 2 {
		sig := c.Score(context.Background(), "hello")
		assert.False(sig.Valid)
	}
	assert.Equal(StateOpen, c.Breaker.State())

	sig := c.Score(context.Background(), "hello")
	assert.False(sig.Valid)
	assert.Equal(ErrScoringUnavailable.Error(), sig.Err)
	assert.Equal(int32(2), calls.Load())
}

func TestClientPanickingOracle(t *testing.T) {
	assert := assert.New(t)

	oracle := OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		panic("boom")
	})
	c, err := NewClient(oracle, testClientConfig(), nil, nil)
	assert.NoError(err)

	sig := c.Score(context.Background(), "hello")
	assert.False(sig.Valid)
	assert.Contains(sig.Err, "panic")
}

func TestClientCallerCancelDoesNotAbort(t *testing.T) {
	assert := assert.New(t)

	oracle := OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return &Result{Probability: 0.2}, nil
		}
	})
	c, err := NewClient(oracle, testClientConfig(), nil, nil)
	assert.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sig := c.Score(ctx, "hello")
	assert.True(sig.Valid)
	assert.Equal(0.2, sig.Score)
	assert.Equal(StateClosed, c.Breaker.State())
}

func TestClientCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var calls atomic.Int32
	oracle := OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		calls.Add(1)
		return &Result{Label: "toxic", Probability: 0.7}, nil
	})
	cache := cachestore.NewMemCacheStore(100, time.Hour)
	c, err := NewClient(oracle, testClientConfig(), cache, nil)
	assert.NoError(err)

	first := c.Score(ctx, "buy followers now")
	assert.False(first.Cached)
	second := c.Score(ctx, "buy followers now")
	assert.True(second.Cached)
	assert.Equal(first.Score, second.Score)
	assert.Equal("toxic", second.Label)
	assert.Equal(int32(1), calls.Load())

	// the model sees raw text, so differently-cased text is scored separately
	shouted := c.Score(ctx, "BUY FOLLOWERS NOW")
	assert.False(shouted.Cached)
	assert.Equal(int32(2), calls.Load())

	// failures are not cached
	failing, err := NewClient(OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		return nil, errors.New("nope")
	}), testClientConfig(), cache, nil)
	assert.NoError(err)
	assert.False(failing.Score(ctx, "something else").Valid)
	raw, err := cache.Get(ctx, scoreCacheName, scoreCacheKey("something else"))
	assert.NoError(err)
	assert.Empty(raw)
}

func TestClientTruncatesText(t *testing.T) {
	assert := assert.New(t)

	var seen atomic.Int32
	oracle := OracleFunc(func(ctx context.Context, text string) (*Result, error) {
		seen.Store(int32(len([]rune(text))))
		return &Result{Probability: 0.1}, nil
	})
	cfg := testClientConfig()
	cfg.MaxTextLength = 10
	c, err := NewClient(oracle, cfg, nil, nil)
	assert.NoError(err)

	c.Score(context.Background(), strings.Repeat("ü", 50))
	assert.Equal(int32(10), seen.Load())

	assert.Equal("héllo", truncateRunes("héllo wörld", 5))
	assert.Equal("short", truncateRunes("short", 5))
}

func TestNewClientErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := NewClient(nil, testClientConfig(), nil, nil)
	assert.Error(err)

	cfg := testClientConfig()
	cfg.Timeout = 0
	_, err = NewClient(OracleFunc(nil), cfg, nil, nil)
	assert.Error(err)

	cfg = testClientConfig()
	cfg.Breaker.Threshold = 0
	_, err = NewClient(OracleFunc(nil), cfg, nil, nil)
	assert.Error(err)
}
