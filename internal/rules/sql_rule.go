package rules

import (
	"bytes"
	"context"
	"dqaudit/internal/dataset"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SQLRule is a declarative rule: a name plus one aggregate query that returns
// the number of violating rows.
type SQLRule struct {
	RuleName        string `yaml:"name"`
	RuleTitle       string `yaml:"title"`
	RuleDescription string `yaml:"description"`
	Query           string `yaml:"query"`
}

func (r *SQLRule) Name() string { return r.RuleName }

func (r *SQLRule) Title() string {
	if r.RuleTitle == "" {
		return r.RuleName
	}
	return r.RuleTitle
}

func (r *SQLRule) Description() string { return r.RuleDescription }

func (r *SQLRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	return snap.Count(ctx, r.Query)
}

type ruleFile struct {
	Rules []*SQLRule `yaml:"rules"`
}

// ParseRuleFile decodes a YAML rule set:
//
//	rules:
//	  - name: missing_country
//	    title: Missing country
//	    query: SELECT COUNT(*) FROM customers WHERE country IS NULL
func ParseRuleFile(data []byte) ([]*SQLRule, error) {
	var f ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: parse rule file: %v", ErrInvalidRuleSet, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: rule file defines no rules", ErrInvalidRuleSet)
	}
	for i, r := range f.Rules {
		if r == nil {
			return nil, fmt.Errorf("%w: rule #%d is empty", ErrInvalidRuleSet, i+1)
		}
		r.RuleName = strings.TrimSpace(r.RuleName)
		r.Query = strings.TrimSpace(r.Query)
		if r.RuleName == "" {
			return nil, fmt.Errorf("%w: rule #%d has no name", ErrInvalidRuleSet, i+1)
		}
		if r.Query == "" {
			return nil, fmt.Errorf("%w: rule %s has an empty query", ErrInvalidRuleSet, r.RuleName)
		}
		if strings.Contains(strings.TrimSuffix(r.Query, ";"), ";") {
			return nil, fmt.Errorf("%w: rule %s must contain exactly one statement", ErrInvalidRuleSet, r.RuleName)
		}
		r.Query = strings.TrimSuffix(r.Query, ";")
	}
	return f.Rules, nil
}

// LoadRuleFile adds the rules of a YAML rule file to reg. Nothing is added
// when any rule is malformed or collides with an existing name.
func LoadRuleFile(reg *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read rule file: %v", ErrInvalidRuleSet, err)
	}
	parsed, err := ParseRuleFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	staged := reg.Clone()
	for _, r := range parsed {
		if err := staged.Add(r); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, r := range parsed {
		if err := reg.Add(r); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
