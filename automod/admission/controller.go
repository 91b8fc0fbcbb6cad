package admission

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatmod/chatmod/automod/setstore"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

// Name of the set (in the optional SetStore) of senders exempt from rate limiting.
const TrustedSendersSet = "trusted-senders"

// Gatekeeper in front of the scoring pipeline.
//
// Global concurrency is bounded by a weighted semaphore, which releases waiters in arrival order. Waiters beyond the semaphore capacity are tracked in a bounded queue so that QueuePolicy can be enforced. Per-sender rate state lives in a concurrent map; each sender's state has its own lock, so senders never block each other.
type Controller struct {
	Logger *slog.Logger
	// optional allow-list of trusted senders
	Trusted setstore.SetStore

	cfg Config
	sem *semaphore.Weighted

	qmu     sync.Mutex
	waiters *list.List

	senders *xsync.MapOf[string, *RateState]

	now func() time.Time
}

// A granted in-flight slot. Release must be called once processing of the message is finished.
type Admission struct {
	// The sender is over their sliding-window message rate.
	RateExceeded bool
	// Sender's violation count at admission time.
	Violations int

	once    sync.Once
	release func()
}

func (a *Admission) Release() {
	if a == nil || a.release == nil {
		return
	}
	a.once.Do(a.release)
}

type waiter struct {
	cancel context.CancelCauseFunc
}

func NewController(cfg Config, trusted setstore.SetStore, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Logger:  logger.With("component", "admission"),
		Trusted: trusted,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		waiters: list.New(),
		senders: xsync.NewMapOf[string, *RateState](),
		now:     time.Now,
	}, nil
}

// Replaces the clock used for rate windows and idle eviction. Only intended for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Asks for an in-flight slot for a message from senderID, waiting in the bounded queue if necessary.
//
// Returns ErrThrottled if the message was rejected (or evicted from the queue) by the queue policy, or the context error if ctx ended while waiting. On success, the sender's rate state has been updated.
func (c *Controller) Admit(ctx context.Context, senderID string) (*Admission, error) {
	start := time.Now()
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	admissionWait.Observe(time.Since(start).Seconds())
	inFlightGauge.Inc()

	exceeded, violations := c.observe(ctx, senderID)
	if exceeded {
		rateExceededCount.Inc()
	}
	return &Admission{
		RateExceeded: exceeded,
		Violations:   violations,
		release: func() {
			inFlightGauge.Dec()
			c.sem.Release(1)
		},
	}, nil
}

func (c *Controller) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// never jumps ahead of queued waiters
	if c.sem.TryAcquire(1) {
		return nil
	}
	if c.cfg.QueuePolicy == QueueReject {
		throttledCount.WithLabelValues("no-queue").Inc()
		return ErrThrottled
	}

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	w := &waiter{cancel: cancel}

	c.qmu.Lock()
	if c.waiters.Len() >= c.cfg.QueueSize {
		if c.cfg.QueuePolicy == QueueRejectNewest {
			c.qmu.Unlock()
			throttledCount.WithLabelValues("queue-full").Inc()
			return ErrThrottled
		}
		// may already have been granted a slot, in which case it is admitted anyway; the drop is counted by the waiter itself
		oldest := c.waiters.Remove(c.waiters.Front()).(*waiter)
		oldest.cancel(ErrThrottled)
	}
	elem := c.waiters.PushBack(w)
	queueDepthGauge.Set(float64(c.waiters.Len()))
	c.qmu.Unlock()

	err := c.sem.Acquire(wctx, 1)

	c.qmu.Lock()
	// may already have been removed by a drop-oldest eviction, in which case this is a no-op
	c.waiters.Remove(elem)
	queueDepthGauge.Set(float64(c.waiters.Len()))
	c.qmu.Unlock()

	if err != nil {
		if errors.Is(context.Cause(wctx), ErrThrottled) {
			throttledCount.WithLabelValues("dropped-oldest").Inc()
			return ErrThrottled
		}
		return fmt.Errorf("waiting for admission: %w", err)
	}
	return nil
}

func (c *Controller) isTrusted(ctx context.Context, senderID string) bool {
	if c.Trusted == nil {
		return false
	}
	ok, err := c.Trusted.InSet(ctx, TrustedSendersSet, senderID)
	if err != nil {
		c.Logger.Warn("trusted sender lookup failed", "sender", senderID, "err", err)
		return false
	}
	return ok
}

// Fetches the live (non-evicted) state for a sender and runs fn with its lock held.
func (c *Controller) withState(senderID string, fn func(st *RateState)) {
	for {
		st, _ := c.senders.LoadOrCompute(senderID, func() *RateState {
			return newRateState(c.cfg.RateLimit)
		})
		st.mu.Lock()
		if st.evicted {
			st.mu.Unlock()
			continue
		}
		fn(st)
		st.mu.Unlock()
		return
	}
}

// Counts a message against the sender's window. Returns whether the sender is over the limit, and their current violation count.
func (c *Controller) observe(ctx context.Context, senderID string) (bool, int) {
	trusted := c.isTrusted(ctx, senderID)
	var exceeded bool
	var violations int
	c.withState(senderID, func(st *RateState) {
		now := c.now()
		st.lastSeen = now
		if !trusted {
			exceeded = st.observe(now, c.cfg.RateWindow)
		}
		violations = st.violations
	})
	return exceeded, violations
}

// Increments a sender's violation count (after a delete or warn verdict), returning the new count.
func (c *Controller) RecordViolation(senderID string) int {
	var n int
	c.withState(senderID, func(st *RateState) {
		st.violations++
		st.lastSeen = c.now()
		n = st.violations
	})
	return n
}

// Returns current rate state for a sender, if any is tracked.
func (c *Controller) SenderStats(senderID string) (*SenderStats, bool) {
	st, ok := c.senders.Load(senderID)
	if !ok {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.evicted {
		return nil, false
	}
	return &SenderStats{
		SenderID:   senderID,
		Violations: st.violations,
		LastSeen:   st.lastSeen,
	}, true
}

// Number of messages currently waiting for an in-flight slot.
func (c *Controller) QueueDepth() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.waiters.Len()
}

// Removes sender state which has been idle for longer than the retention window. Returns the number of senders evicted.
func (c *Controller) Sweep() int {
	cutoff := c.now().Add(-c.cfg.RateRetention)
	evicted := 0
	c.senders.Range(func(senderID string, st *RateState) bool {
		st.mu.Lock()
		idle := !st.lastSeen.After(cutoff)
		if idle {
			st.evicted = true
		}
		st.mu.Unlock()
		if !idle {
			return true
		}
		// only delete if the entry hasn't been replaced in the meantime
		c.senders.Compute(senderID, func(old *RateState, loaded bool) (*RateState, bool) {
			return old, !loaded || old == st
		})
		evicted++
		return true
	})
	rateSendersGauge.Set(float64(c.senders.Size()))
	return evicted
}

// Periodically evicts idle sender state, until ctx is done.
func (c *Controller) RunJanitor(ctx context.Context) {
	interval := c.cfg.RateRetention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.Logger.Debug("evicted idle sender rate state", "count", n)
			}
		}
	}
}
