package admission

import (
	"sync"
	"time"
)

// Per-sender counters. Mutated only by the Controller, under the state's own lock.
type RateState struct {
	mu sync.Mutex
	// admission times of the sender's most recent messages, oldest at recent[next] once full
	recent     []time.Time
	next       int
	full       bool
	violations int
	lastSeen   time.Time
	// set (under mu) when the janitor removes this state from the registry; holders must re-fetch
	evicted bool
}

func newRateState(limit int64) *RateState {
	return &RateState{
		recent: make([]time.Time, limit),
	}
}

// Records a message admitted at 'now', and reports whether it is more than the limit within window.
//
// The log holds exactly the last limit admission times, so the check is exact: this message exceeds the limit iff the limit-th previous message is less than window old. Every message counts, including ones which are already over the limit.
func (st *RateState) observe(now time.Time, window time.Duration) bool {
	exceeded := st.full && now.Sub(st.recent[st.next]) < window
	st.recent[st.next] = now
	st.next++
	if st.next == len(st.recent) {
		st.next = 0
		st.full = true
	}
	return exceeded
}

type SenderStats struct {
	SenderID   string    `json:"sender_id"`
	Violations int       `json:"violations"`
	LastSeen   time.Time `json:"last_seen"`
}
