package scorer

import (
	"fmt"
	"sync"
	"time"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type BreakerConfig struct {
	// Number of consecutive failures (errors or timeouts) which trips the breaker open.
	Threshold int
	// Consecutive failures only count toward Threshold if they all happen within this window of the first one.
	Window time.Duration
	// How long the breaker stays open before allowing a single trial call.
	Cooldown time.Duration
}

func (c BreakerConfig) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("breaker threshold must be at least 1 (got %d)", c.Threshold)
	}
	if c.Window <= 0 {
		return fmt.Errorf("breaker window must be positive (got %s)", c.Window)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive (got %s)", c.Cooldown)
	}
	return nil
}

// Circuit breaker for a single oracle endpoint.
//
// State transitions are serialized by a single mutex. The lock is only held for bookkeeping, never while the protected call is in progress.
type Breaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	firstFailure  time.Time
	openedAt      time.Time
	trialInFlight bool

	// injectable for tests
	now func() time.Time
	// called (with the lock held) on every state transition
	onTransition func(from, to BreakerState)
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Asks permission to make a call.
//
// If the call may proceed, returns a "done" callback which must be invoked exactly once with the outcome. Otherwise returns ErrScoringUnavailable.
func (b *Breaker) Allow() (func(success bool), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.doneFunc(false), nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return nil, ErrScoringUnavailable
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return b.doneFunc(true), nil
	case StateHalfOpen:
		// only a single trial call at a time
		if b.trialInFlight {
			return nil, ErrScoringUnavailable
		}
		b.trialInFlight = true
		return b.doneFunc(true), nil
	}
	return nil, ErrScoringUnavailable
}

func (b *Breaker) doneFunc(trial bool) func(success bool) {
	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			b.record(trial, success)
		})
	}
}

func (b *Breaker) record(trial, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if trial {
		b.trialInFlight = false
		if b.state != StateHalfOpen {
			return
		}
		if success {
			b.failures = 0
			b.transition(StateClosed)
		} else {
			b.openedAt = now
			b.transition(StateOpen)
		}
		return
	}

	// results of calls started while closed, which finish after the breaker already tripped, are ignored
	if b.state != StateClosed {
		return
	}
	if success {
		b.failures = 0
		return
	}
	if b.failures == 0 || now.Sub(b.firstFailure) > b.cfg.Window {
		b.failures = 1
		b.firstFailure = now
	} else {
		b.failures++
	}
	if b.failures >= b.cfg.Threshold {
		b.openedAt = now
		b.failures = 0
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
