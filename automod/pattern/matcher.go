package pattern

import (
	"sync/atomic"

	"github.com/chatmod/chatmod/automod/event"
)

// Holds the current RuleSet, and allows it to be replaced while evaluations are in flight.
//
// Callers which need a consistent view across several calls should grab a Snapshot once and use it directly.
type Matcher struct {
	current atomic.Pointer[RuleSet]
}

func NewMatcher(rs *RuleSet) *Matcher {
	m := &Matcher{}
	m.current.Store(rs)
	return m
}

func (m *Matcher) Snapshot() *RuleSet {
	return m.current.Load()
}

// Atomically replaces the active rule set, returning the previous one. Evaluations which already captured the old snapshot keep using it.
func (m *Matcher) Swap(rs *RuleSet) *RuleSet {
	return m.current.Swap(rs)
}

func (m *Matcher) Match(text string) event.Signal {
	return m.Snapshot().Match(text)
}
