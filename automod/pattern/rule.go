package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidRule = errors.New("invalid pattern rule")

type RuleKind string

const (
	// Go RE2 regular expression, matched against the raw message text
	KindRegex RuleKind = "regex"
	// plain substring, matched against folded (lower-case, accent-stripped) text unless CaseSensitive
	KindSubstring RuleKind = "substring"
	// list of keywords or phrases, each matched as a whole token sequence
	KindKeywords RuleKind = "keywords"
)

// Configuration form of a single rule, as loaded from a rules file.
type Rule struct {
	ID            string   `yaml:"id" json:"id"`
	Kind          RuleKind `yaml:"kind" json:"kind"`
	Pattern       string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Keywords      []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Severity      float64  `yaml:"severity" json:"severity"`
	CaseSensitive bool     `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
}

type compiledRule struct {
	id       string
	severity float64
	match    func(in *matchInput) bool
}

// text is prepared once per message and shared by all rules
type matchInput struct {
	raw    string
	folded string
	tokens []string
}

func compileRule(r Rule) (compiledRule, error) {
	if r.ID == "" {
		return compiledRule{}, fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if r.Severity < 0 || r.Severity > 1 {
		return compiledRule{}, fmt.Errorf("%w (%s): severity %v outside [0,1]", ErrInvalidRule, r.ID, r.Severity)
	}
	cr := compiledRule{id: r.ID, severity: r.Severity}

	switch r.Kind {
	case KindRegex:
		if r.Pattern == "" {
			return compiledRule{}, fmt.Errorf("%w (%s): empty pattern", ErrInvalidRule, r.ID)
		}
		expr := r.Pattern
		if !r.CaseSensitive && !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return compiledRule{}, fmt.Errorf("%w (%s): %w", ErrInvalidRule, r.ID, err)
		}
		cr.match = func(in *matchInput) bool {
			return re.MatchString(in.raw)
		}
	case KindSubstring:
		if r.Pattern == "" {
			return compiledRule{}, fmt.Errorf("%w (%s): empty pattern", ErrInvalidRule, r.ID)
		}
		if r.CaseSensitive {
			sub := r.Pattern
			cr.match = func(in *matchInput) bool {
				return strings.Contains(in.raw, sub)
			}
		} else {
			sub := foldText(r.Pattern)
			cr.match = func(in *matchInput) bool {
				return strings.Contains(in.folded, sub)
			}
		}
	case KindKeywords:
		var phrases [][]string
		for _, kw := range r.Keywords {
			toks := TokenizeText(kw)
			if len(toks) > 0 {
				phrases = append(phrases, toks)
			}
		}
		if len(phrases) == 0 {
			return compiledRule{}, fmt.Errorf("%w (%s): no usable keywords", ErrInvalidRule, r.ID)
		}
		cr.match = func(in *matchInput) bool {
			for _, p := range phrases {
				if containsSeq(in.tokens, p) {
					return true
				}
			}
			return false
		}
	default:
		return compiledRule{}, fmt.Errorf("%w (%s): unknown kind %q", ErrInvalidRule, r.ID, r.Kind)
	}
	return cr, nil
}

// Spam rules used when no rules file is configured: links, and long digit runs (phone numbers, account numbers).
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "spam-link",
			Kind:     KindRegex,
			Pattern:  `http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\(\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`,
			Severity: 0.9,
		},
		{
			ID:       "spam-long-number",
			Kind:     KindRegex,
			Pattern:  `\b\d{10,}\b`,
			Severity: 0.9,
		},
	}
}
