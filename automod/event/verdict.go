package event

import (
	"time"
)

type Action string

const (
	ActionAllow  Action = "allow"
	ActionFlag   Action = "flag"
	ActionWarn   Action = "warn"
	ActionDelete Action = "delete"
)

// All actions, least to most severe.
var Actions = []Action{ActionAllow, ActionFlag, ActionWarn, ActionDelete}

// Annotation tags which may be attached to a verdict.
const (
	// one or more expected signals were missing or invalid when the decision was made
	TagDegraded = "degraded"
	// sender exceeded their sliding-window message rate
	TagRateExceeded = "rate_exceeded"
	// message was not admitted in to scoring because of backpressure
	TagThrottled = "throttled"
)

// The final, explainable moderation decision for a single Message.
//
// Verdicts are immutable once produced by the decision engine. The dispatcher executes the action and persists the verdict to the audit sink.
type Verdict struct {
	MessageID string `json:"message_id"`
	Action    Action `json:"action"`
	// Identifier of the policy rule which produced this action.
	Rule string `json:"rule"`
	// Contributing signals, in fixed kind order (pattern, then toxicity).
	Signals []Signal `json:"signals"`
	// Subset of the Tag* constants.
	Tags []string `json:"tags,omitempty"`
	// Sender's violation count at decision time, including this verdict if it is itself a violation. Counts are forgotten once the sender goes idle.
	SenderViolations int       `json:"sender_violations"`
	DecidedAt        time.Time `json:"decided_at"`
}

func (v *Verdict) HasTag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (v *Verdict) Degraded() bool {
	return v.HasTag(TagDegraded)
}

// Returns the signal of the given kind, if one contributed to this verdict.
func (v *Verdict) Signal(kind SignalKind) (Signal, bool) {
	for _, s := range v.Signals {
		if s.Kind == kind {
			return s, true
		}
	}
	return Signal{}, false
}

// Whether this verdict counts as a violation against the sender.
func (v *Verdict) IsViolation() bool {
	return v.Action == ActionDelete || v.Action == ActionWarn
}
