package pattern

import (
	"fmt"
	"time"

	"github.com/chatmod/chatmod/automod/event"
)

// Immutable, compiled snapshot of an ordered list of rules.
//
// A RuleSet is never modified after Compile returns; reloading builds a new RuleSet and swaps it in to the Matcher.
type RuleSet struct {
	rules    []compiledRule
	Version  string
	LoadedAt time.Time
}

// Compiles rules in order. Rule identifiers must be unique.
func Compile(version string, rules []Rule) (*RuleSet, error) {
	rs := RuleSet{
		rules:    make([]compiledRule, 0, len(rules)),
		Version:  version,
		LoadedAt: time.Now(),
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = true
		cr, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, cr)
	}
	return &rs, nil
}

func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Evaluates all rules against the text and returns a "pattern" signal.
//
// The score is the maximum severity among matching rules, or zero if nothing matched. Pattern signals are always valid; this never fails.
func (rs *RuleSet) Match(text string) event.Signal {
	sig := event.Signal{
		Kind:  event.KindPattern,
		Valid: true,
	}
	if rs == nil || len(rs.rules) == 0 {
		return sig
	}
	folded := foldText(text)
	in := matchInput{
		raw:    text,
		folded: folded,
		tokens: TokenizeText(text),
	}
	for _, r := range rs.rules {
		if !r.match(&in) {
			continue
		}
		sig.Matched = append(sig.Matched, r.id)
		if r.severity > sig.Score {
			sig.Score = r.severity
		}
	}
	return sig
}
