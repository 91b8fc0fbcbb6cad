package pattern

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// On-disk rules file. YAML, or JSON (which parses as YAML).
//
//	version: "2024-06-01"
//	rules:
//	  - id: free-money
//	    kind: substring
//	    pattern: free money now
//	    severity: 0.95
type RulesFile struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

func ParseRules(r io.Reader) (*RulesFile, error) {
	var rf RulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty rules file", ErrInvalidRule)
		}
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	return &rf, nil
}

// Reads and compiles a rules file. An empty path returns the compiled DefaultRules.
func LoadRuleSet(p string) (*RuleSet, error) {
	if p == "" {
		return Compile("default", DefaultRules())
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	rf, err := ParseRules(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	version := rf.Version
	if version == "" {
		version = p
	}
	rs, err := Compile(version, rf.Rules)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return rs, nil
}
