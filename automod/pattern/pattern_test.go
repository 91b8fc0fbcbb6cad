package pattern

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chatmod/chatmod/automod/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeText(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  []string
	}{
		{text: "", out: []string{}},
		{text: "Hello, world!", out: []string{"hello", "world"}},
		{text: "FRÉE money!!1 now", out: []string{"free", "money", "1", "now"}},
		{text: "Gdańsk", out: []string{"gdansk"}},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, TokenizeText(fix.text))
	}
}

func TestRuleSetMatch(t *testing.T) {
	assert := assert.New(t)

	rs, err := LoadRuleSet("testdata/rules.yaml")
	require.NoError(t, err)
	assert.Equal("test-1", rs.Version)
	assert.Equal(3, rs.Len())

	fixtures := []struct {
		text    string
		score   float64
		matched []string
	}{
		{text: "good morning everyone", score: 0, matched: nil},
		{text: "get FREE MONEY NOW!!", score: 0.95, matched: []string{"free-money"}},
		{text: "Frée money now at https://example.com", score: 0.95, matched: []string{"free-money", "spam-link"}},
		{text: "huge crypto, giveaway today", score: 0.7, matched: []string{"crypto-giveaway"}},
		{text: "cryptogiveaway", score: 0, matched: nil},
		{text: "see http://example.com/x", score: 0.4, matched: []string{"spam-link"}},
	}

	for _, fix := range fixtures {
		sig := rs.Match(fix.text)
		assert.Equal(event.KindPattern, sig.Kind)
		assert.True(sig.Valid)
		assert.Equal(fix.score, sig.Score, fix.text)
		assert.Equal(fix.matched, sig.Matched, fix.text)
	}
}

func TestLoadJSONRules(t *testing.T) {
	assert := assert.New(t)

	rs, err := LoadRuleSet("testdata/rules.json")
	require.NoError(t, err)
	assert.Equal("test-json", rs.Version)

	assert.Equal(0.3, rs.Match("STOP SHOUTING NOW!").Score)
	assert.Equal(0.0, rs.Match("stop shouting now!").Score)
}

func TestDefaultRules(t *testing.T) {
	assert := assert.New(t)

	rs, err := LoadRuleSet("")
	require.NoError(t, err)
	assert.Equal("default", rs.Version)

	assert.Equal([]string{"spam-link"}, rs.Match("visit https://spam.example.com/win").Matched)
	assert.Equal([]string{"spam-long-number"}, rs.Match("call 5551234567890 today").Matched)
	assert.Equal(0.0, rs.Match("call me at 555").Score)
}

func TestCompileErrors(t *testing.T) {
	assert := assert.New(t)

	bad := [][]Rule{
		{{ID: "", Kind: KindSubstring, Pattern: "x", Severity: 0.1}},
		{{ID: "a", Kind: KindSubstring, Pattern: "x", Severity: 1.5}},
		{{ID: "a", Kind: KindRegex, Pattern: "(unclosed", Severity: 0.5}},
		{{ID: "a", Kind: KindRegex, Pattern: "", Severity: 0.5}},
		{{ID: "a", Kind: KindKeywords, Keywords: []string{"!!"}, Severity: 0.5}},
		{{ID: "a", Kind: "glob", Pattern: "x", Severity: 0.5}},
		{{ID: "a", Kind: KindSubstring, Pattern: "x", Severity: 0.5}, {ID: "a", Kind: KindSubstring, Pattern: "y", Severity: 0.5}},
	}
	for _, rules := range bad {
		_, err := Compile("bad", rules)
		assert.Error(err)
		assert.True(errors.Is(err, ErrInvalidRule), err.Error())
	}

	_, err := ParseRules(strings.NewReader("rules:\n  - id: a\n    bogus_field: 1\n"))
	assert.Error(err)
}

func TestMatcherSwap(t *testing.T) {
	assert := assert.New(t)

	v1, err := Compile("v1", []Rule{{ID: "a", Kind: KindSubstring, Pattern: "spam", Severity: 0.5}})
	require.NoError(t, err)
	v2, err := Compile("v2", []Rule{{ID: "b", Kind: KindSubstring, Pattern: "spam", Severity: 1.0}})
	require.NoError(t, err)

	m := NewMatcher(v1)
	snap := m.Snapshot()

	// concurrent readers while swapping; run with -race
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sig := m.Match("some spam here")
				assert.True(sig.Score == 0.5 || sig.Score == 1.0)
			}
		}()
	}
	old := m.Swap(v2)
	wg.Wait()

	assert.Equal("v1", old.Version)
	assert.Equal(1.0, m.Match("spam").Score)
	// captured snapshot is unaffected by the swap
	assert.Equal(0.5, snap.Match("spam").Score)
}
