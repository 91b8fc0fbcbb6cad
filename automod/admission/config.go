package admission

import (
	"fmt"
	"time"
)

// What happens to a message when all in-flight slots are taken.
type QueuePolicy string

const (
	// Wait in a bounded queue. When the queue is full, the longest-waiting message is evicted (throttled) to make room.
	QueueDropOldest QueuePolicy = "drop-oldest"
	// Wait in a bounded queue. When the queue is full, the new message is throttled.
	QueueRejectNewest QueuePolicy = "reject-newest"
	// No queue: throttle immediately.
	QueueReject QueuePolicy = "reject"
)

func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch QueuePolicy(s) {
	case QueueDropOldest, QueueRejectNewest, QueueReject:
		return QueuePolicy(s), nil
	}
	return "", fmt.Errorf("unknown queue policy %q (expected drop-oldest, reject-newest, or reject)", s)
}

// Upper bound on RateLimit. Each tracked sender keeps one timestamp per allowed message.
const MaxRateLimit = 10_000

type Config struct {
	// Global cap on messages being scored concurrently.
	MaxInFlight int64
	QueueSize   int
	QueuePolicy QueuePolicy

	// Per-sender sliding window: more than RateLimit messages within RateWindow sets the rate_exceeded annotation.
	RateLimit  int64
	RateWindow time.Duration
	// Sender state idle for longer than this is evicted (which also forgets the sender's violation count).
	RateRetention time.Duration
}

func (c Config) Validate() error {
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max in-flight must be at least 1 (got %d)", c.MaxInFlight)
	}
	if _, err := ParseQueuePolicy(string(c.QueuePolicy)); err != nil {
		return err
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size can not be negative (got %d)", c.QueueSize)
	}
	if c.QueuePolicy != QueueReject && c.QueueSize == 0 {
		return fmt.Errorf("queue policy %s requires a positive queue size", c.QueuePolicy)
	}
	if c.RateLimit < 1 || c.RateLimit > MaxRateLimit {
		return fmt.Errorf("rate limit must be between 1 and %d (got %d)", MaxRateLimit, c.RateLimit)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive (got %s)", c.RateWindow)
	}
	if c.RateRetention < c.RateWindow {
		return fmt.Errorf("rate retention (%s) must be at least the rate window (%s)", c.RateRetention, c.RateWindow)
	}
	return nil
}
