package engine

import (
	"github.com/chatmod/chatmod/automod/event"
)

// Everything the decision is made from.
type PolicyInput struct {
	// Zero value (invalid) if the signal is missing.
	Pattern      event.Signal
	Toxicity     event.Signal
	RateExceeded bool
}

func (in *PolicyInput) complete() bool {
	return in.Pattern.Valid && in.Toxicity.Valid
}

func atOrAbove(s event.Signal, threshold float64) bool {
	return s.Valid && s.Score >= threshold
}

type PolicyRule struct {
	ID     string
	Action event.Action
	Match  func(cfg *PolicyConfig, in *PolicyInput) bool
}

// Ordered policy table. The first matching rule decides; the last rule always matches.
var PolicyTable = []PolicyRule{
	{
		ID:     "pattern-delete",
		Action: event.ActionDelete,
		Match: func(cfg *PolicyConfig, in *PolicyInput) bool {
			return atOrAbove(in.Pattern, cfg.Pattern.Delete)
		},
	},
	{
		ID:     "toxicity-delete",
		Action: event.ActionDelete,
		Match: func(cfg *PolicyConfig, in *PolicyInput) bool {
			return atOrAbove(in.Toxicity, cfg.Toxicity.Delete)
		},
	},
	{
		ID:     "pattern-warn",
		Action: event.ActionWarn,
		Match: func(cfg *PolicyConfig, in *PolicyInput) bool {
			return atOrAbove(in.Pattern, cfg.Pattern.Warn)
		},
	},
	{
		ID:     "toxicity-warn",
		Action: event.ActionWarn,
		Match: func(cfg *PolicyConfig, in *PolicyInput) bool {
			return atOrAbove(in.Toxicity, cfg.Toxicity.Warn)
		},
	},
	{
		ID:     "rate-exceeded",
		Action: event.ActionWarn,
		Match: func(cfg *PolicyConfig, in *PolicyInput) bool {
			return in.RateExceeded
		},
	},
	{
		ID:     "all-clear",
		Action: event.ActionAllow,
		Match: func(cfg *PolicyConfig, in *PolicyInput) bool {
			return in.complete()
		},
	},
	{
		ID:     "incomplete-signals",
		Action: event.ActionFlag,
		Match: func(cfg *PolicyConfig, in *PolicyInput) bool {
			return true
		},
	},
}

type Decision struct {
	Action event.Action
	Rule   string
	Tags   []string
}

// Applies the policy table. Pure and deterministic.
//
// The "degraded" tag is independent of which rule matched: a pattern delete made without a toxicity signal is still degraded.
func Evaluate(cfg *PolicyConfig, in *PolicyInput) Decision {
	var d Decision
	for _, rule := range PolicyTable {
		if rule.Match(cfg, in) {
			d.Action = rule.Action
			d.Rule = rule.ID
			break
		}
	}
	if !in.complete() {
		d.Tags = append(d.Tags, event.TagDegraded)
	}
	if in.RateExceeded {
		d.Tags = append(d.Tags, event.TagRateExceeded)
	}
	return d
}
