package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatmod/chatmod/automod/cachestore"
	"github.com/chatmod/chatmod/automod/event"
)

// Texts are truncated to this many runes before scoring, unless configured otherwise.
const DefaultMaxTextLength = 1000

type ClientConfig struct {
	// Name of the oracle endpoint, for metrics and logs.
	Name string
	// Per-call timeout. Calls which overrun are abandoned and count as breaker failures.
	Timeout       time.Duration
	Breaker       BreakerConfig
	MaxTextLength int
}

// Wraps an Oracle with a per-call timeout, a circuit breaker, and an optional result cache, and turns every outcome in to a "toxicity" Signal.
//
// Score never returns an error: timeouts, breaker rejections and oracle failures all become invalid signals.
type Client struct {
	Oracle  Oracle
	Breaker *Breaker
	// optional; identical texts within the cache TTL skip the oracle entirely
	Cache  cachestore.CacheStore
	Logger *slog.Logger

	name          string
	timeout       time.Duration
	maxTextLength int
}

func NewClient(oracle Oracle, cfg ClientConfig, cache cachestore.CacheStore, logger *slog.Logger) (*Client, error) {
	if oracle == nil {
		return nil, fmt.Errorf("scorer client requires an oracle")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("scorer timeout must be positive (got %s)", cfg.Timeout)
	}
	if err := cfg.Breaker.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("oracle", cfg.Name)

	br := NewBreaker(cfg.Breaker)
	name := cfg.Name
	br.onTransition = func(from, to BreakerState) {
		logger.Warn("oracle circuit breaker transition", "from", from.String(), "to", to.String())
		breakerState.WithLabelValues(name).Set(float64(to))
		breakerTransitions.WithLabelValues(name, to.String()).Inc()
	}
	breakerState.WithLabelValues(name).Set(float64(StateClosed))

	return &Client{
		Oracle:        oracle,
		Breaker:       br,
		Cache:         cache,
		Logger:        logger,
		name:          name,
		timeout:       cfg.Timeout,
		maxTextLength: cfg.MaxTextLength,
	}, nil
}

func (c *Client) Kind() event.SignalKind {
	return event.KindToxicity
}

func (c *Client) Signal(ctx context.Context, msg *event.Message) event.Signal {
	return c.Score(ctx, msg.Text)
}

type oracleOutcome struct {
	res *Result
	err error
}

// Scores text for toxicity.
//
// Cancellation of ctx does not abort an oracle call which is already in flight: it runs to completion (or its own timeout) so that breaker statistics stay accurate. Callers which stop waiting simply discard the result.
func (c *Client) Score(ctx context.Context, text string) event.Signal {
	if strings.TrimSpace(text) == "" {
		scoreOutcomes.WithLabelValues(c.name, "blank").Inc()
		return event.Signal{Kind: event.KindToxicity, Valid: true}
	}
	text = truncateRunes(text, c.maxTextLength)

	if c.Cache != nil {
		cached, err := getCachedScore(ctx, c.Cache, text)
		if err != nil {
			c.Logger.Warn("score cache read failed", "err", err)
		} else if cached != nil {
			scoreOutcomes.WithLabelValues(c.name, "cached").Inc()
			sig := resultSignal(cached)
			sig.Cached = true
			return sig
		}
	}

	done, err := c.Breaker.Allow()
	if err != nil {
		scoreOutcomes.WithLabelValues(c.name, "unavailable").Inc()
		return event.InvalidSignal(event.KindToxicity, err)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	// buffered, so an abandoned call can still deliver and exit
	outc := make(chan oracleOutcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outc <- oracleOutcome{err: fmt.Errorf("oracle panic: %v", r)}
			}
		}()
		res, err := c.Oracle.Score(callCtx, text)
		outc <- oracleOutcome{res: res, err: err}
	}()

	var out oracleOutcome
	select {
	case out = <-outc:
	case <-callCtx.Done():
		out = oracleOutcome{err: ErrScoringTimeout}
	}
	scoreDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	if out.err == nil && out.res == nil {
		out.err = fmt.Errorf("oracle returned no result")
	}
	if out.err != nil {
		done(false)
		if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			out.err = ErrScoringTimeout
		}
		if errors.Is(out.err, ErrScoringTimeout) {
			scoreOutcomes.WithLabelValues(c.name, "timeout").Inc()
		} else {
			scoreOutcomes.WithLabelValues(c.name, "error").Inc()
			c.Logger.Warn("oracle call failed", "err", out.err)
		}
		return event.InvalidSignal(event.KindToxicity, out.err)
	}
	done(true)
	scoreOutcomes.WithLabelValues(c.name, "ok").Inc()

	if c.Cache != nil {
		if err := setCachedScore(ctx, c.Cache, text, out.res); err != nil {
			c.Logger.Warn("score cache write failed", "err", err)
		}
	}
	return resultSignal(out.res)
}

func resultSignal(res *Result) event.Signal {
	return event.Signal{
		Kind:  event.KindToxicity,
		Score: event.ClampScore(res.Probability),
		Valid: true,
		Label: res.Label,
	}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
