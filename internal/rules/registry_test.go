package rules

import (
	"context"
	"dqaudit/internal/dataset"
	"errors"
	"testing"
)

type dummyRule struct {
	name string
}

func (r *dummyRule) Name() string        { return r.name }
func (r *dummyRule) Title() string       { return "Dummy Rule" }
func (r *dummyRule) Description() string { return "Does nothing" }
func (r *dummyRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	return 0, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Add(&dummyRule{name: "rule2"}); err != nil {
		t.Fatalf("Add rule2: %v", err)
	}
	if err := reg.Add(&dummyRule{name: "rule1"}); err != nil {
		t.Fatalf("Add rule1: %v", err)
	}

	// Test List (sorted by name)
	all := reg.List()
	if len(all) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(all))
	}
	if all[0].Name() != "rule1" || all[1].Name() != "rule2" {
		t.Errorf("Expected sorted rules, got %s, %s", all[0].Name(), all[1].Name())
	}

	// Test Resolve
	selected, err := reg.Resolve("rule2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(selected) != 1 || selected[0].Name() != "rule2" {
		t.Errorf("Expected rule2, got %v", selected)
	}

	// Test Resolve keeps selector order and drops repeats
	selected, err = reg.Resolve("rule2, rule1, rule2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(selected) != 2 || selected[0].Name() != "rule2" || selected[1].Name() != "rule1" {
		t.Errorf("Expected [rule2 rule1], got %v", selected)
	}

	// Test Resolve All
	selected, err = reg.Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("Expected 2 rules, got %d", len(selected))
	}

	// Test Resolve Unknown
	_, err = reg.Resolve("unknown")
	if !errors.Is(err, ErrInvalidRuleSet) {
		t.Errorf("Expected ErrInvalidRuleSet for unknown rule, got %v", err)
	}
}

func TestRegistry_AddRejectsMalformedRules(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{name: "nil rule", rule: nil},
		{name: "empty name", rule: &dummyRule{name: ""}},
		{name: "whitespace name", rule: &dummyRule{name: " padded "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			if err := reg.Add(tt.rule); !errors.Is(err, ErrInvalidRuleSet) {
				t.Fatalf("expected ErrInvalidRuleSet, got %v", err)
			}
		})
	}
}

func TestRegistry_AddRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add(&dummyRule{name: "dup"}); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := reg.Add(&dummyRule{name: "dup"}); !errors.Is(err, ErrInvalidRuleSet) {
		t.Fatalf("expected duplicate to fail with ErrInvalidRuleSet, got %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 rule after rejected duplicate, got %d", reg.Len())
	}
}

func TestRegister_PanicsOnDuplicateBuiltin(t *testing.T) {
	saved := builtin
	builtin = NewRegistry()
	defer func() { builtin = saved }()

	Register(&dummyRule{name: "once"})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate built-in registration")
		}
	}()
	Register(&dummyRule{name: "once"})
}

func TestClone_IsIndependent(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Add(&dummyRule{name: "a"})

	c := reg.Clone()
	if err := c.Add(&dummyRule{name: "b"}); err != nil {
		t.Fatalf("Add to clone: %v", err)
	}
	if reg.Len() != 1 || c.Len() != 2 {
		t.Fatalf("clone should not share storage: reg=%d clone=%d", reg.Len(), c.Len())
	}
}

type patternRule struct {
	dummyRule
	pattern string
}

func (r *patternRule) Copy() Rule {
	cp := *r
	return &cp
}

func TestClone_CopiesConfigurableRules(t *testing.T) {
	orig := &patternRule{dummyRule: dummyRule{name: "p"}, pattern: "default"}
	reg := NewRegistry()
	_ = reg.Add(orig)

	c := reg.Clone()
	got, err := c.Resolve("p")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got[0].(*patternRule).pattern = "changed"

	if orig.pattern != "default" {
		t.Fatalf("configuring a clone changed the original: %q", orig.pattern)
	}
}
