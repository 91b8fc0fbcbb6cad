package engine

import (
	"testing"

	"github.com/chatmod/chatmod/automod/event"

	"github.com/stretchr/testify/assert"
)

func sig(kind event.SignalKind, score float64) event.Signal {
	return event.Signal{Kind: kind, Score: score, Valid: true}
}

func TestEvaluate(t *testing.T) {
	assert := assert.New(t)
	cfg := DefaultConfig().Policy
	invalidTox := event.InvalidSignal(event.KindToxicity, nil)

	tests := []struct {
		name   string
		in     PolicyInput
		action event.Action
		rule   string
		tags   []string
	}{
		{
			name:   "clean",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0), Toxicity: sig(event.KindToxicity, 0.1)},
			action: event.ActionAllow,
			rule:   "all-clear",
		},
		{
			name:   "pattern delete beats low toxicity",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0.95), Toxicity: sig(event.KindToxicity, 0)},
			action: event.ActionDelete,
			rule:   "pattern-delete",
		},
		{
			name:   "pattern delete at exact threshold",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0.9), Toxicity: sig(event.KindToxicity, 0)},
			action: event.ActionDelete,
			rule:   "pattern-delete",
		},
		{
			name:   "pattern delete without model is degraded",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0.95), Toxicity: invalidTox},
			action: event.ActionDelete,
			rule:   "pattern-delete",
			tags:   []string{event.TagDegraded},
		},
		{
			name:   "toxicity delete",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0), Toxicity: sig(event.KindToxicity, 0.85)},
			action: event.ActionDelete,
			rule:   "toxicity-delete",
		},
		{
			name:   "pattern warn range",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0.6), Toxicity: sig(event.KindToxicity, 0)},
			action: event.ActionWarn,
			rule:   "pattern-warn",
		},
		{
			name:   "toxicity warn range",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0), Toxicity: sig(event.KindToxicity, 0.7)},
			action: event.ActionWarn,
			rule:   "toxicity-warn",
		},
		{
			name:   "warn with toxicity missing",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0.6), Toxicity: invalidTox},
			action: event.ActionWarn,
			rule:   "pattern-warn",
			tags:   []string{event.TagDegraded},
		},
		{
			name:   "rate exceeded escalates clean message",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0), Toxicity: sig(event.KindToxicity, 0), RateExceeded: true},
			action: event.ActionWarn,
			rule:   "rate-exceeded",
			tags:   []string{event.TagRateExceeded},
		},
		{
			name:   "rate exceeded does not soften delete",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0), Toxicity: sig(event.KindToxicity, 0.99), RateExceeded: true},
			action: event.ActionDelete,
			rule:   "toxicity-delete",
			tags:   []string{event.TagRateExceeded},
		},
		{
			name:   "missing toxicity never allows",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0), Toxicity: invalidTox},
			action: event.ActionFlag,
			rule:   "incomplete-signals",
			tags:   []string{event.TagDegraded},
		},
		{
			name:   "invalid toxicity score is ignored",
			in:     PolicyInput{Pattern: sig(event.KindPattern, 0), Toxicity: event.Signal{Kind: event.KindToxicity, Score: 0.99}},
			action: event.ActionFlag,
			rule:   "incomplete-signals",
			tags:   []string{event.TagDegraded},
		},
		{
			name:   "nothing at all",
			in:     PolicyInput{},
			action: event.ActionFlag,
			rule:   "incomplete-signals",
			tags:   []string{event.TagDegraded},
		},
	}

	for _, tc := range tests {
		d := Evaluate(&cfg, &tc.in)
		assert.Equal(tc.action, d.Action, tc.name)
		assert.Equal(tc.rule, d.Rule, tc.name)
		assert.Equal(tc.tags, d.Tags, tc.name)
	}
}

func TestPolicyTableTerminates(t *testing.T) {
	assert := assert.New(t)
	last := PolicyTable[len(PolicyTable)-1]
	cfg := DefaultConfig().Policy
	assert.True(last.Match(&cfg, &PolicyInput{}))

	// most severe actions come first
	rank := map[event.Action]int{}
	for i, a := range event.Actions {
		rank[a] = i
	}
	prev := rank[event.ActionDelete]
	for _, rule := range PolicyTable[:len(PolicyTable)-2] {
		assert.LessOrEqual(rank[rule.Action], prev, rule.ID)
		prev = rank[rule.Action]
	}
}

func TestConfigValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Policy.Pattern.Warn = 0.95
	err := cfg.Validate()
	var cerr *ConfigError
	assert.ErrorAs(err, &cerr)
	assert.Equal("pattern thresholds", cerr.Field)

	cfg = DefaultConfig()
	cfg.Policy.Toxicity.Delete = 1.5
	assert.Error(cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxWaitForModel = 0
	assert.Error(cfg.Validate())

	cfg = DefaultConfig()
	cfg.Breaker.Threshold = 0
	assert.ErrorAs(cfg.Validate(), &cerr)
	assert.Equal("breaker", cerr.Field)

	cfg = DefaultConfig()
	cfg.Admission.QueuePolicy = "random"
	assert.ErrorAs(cfg.Validate(), &cerr)
	assert.Equal("admission", cerr.Field)
}
