package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidRuleSet marks configuration errors in a rule set: duplicate or
// empty names, nil rules, empty queries, unknown selections.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// Registry holds uniquely named rules. It is populated at startup and only
// read while batches run.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

func (r *Registry) Add(rule Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRuleSet)
	}
	name := strings.TrimSpace(rule.Name())
	if name == "" {
		return fmt.Errorf("%w: rule name is empty", ErrInvalidRuleSet)
	}
	if name != rule.Name() {
		return fmt.Errorf("%w: rule name %q has surrounding whitespace", ErrInvalidRuleSet, rule.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[name]; exists {
		return fmt.Errorf("%w: rule %s already registered", ErrInvalidRuleSet, name)
	}
	r.rules[name] = rule
	return nil
}

// List returns every rule sorted by name.
func (r *Registry) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Rule {
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Resolve selects rules by a comma-separated list of names, in the order
// given. An empty selector selects every rule.
func (r *Registry) Resolve(selector string) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.TrimSpace(selector) == "" {
		return r.listLocked(), nil
	}

	seen := make(map[string]struct{})
	var selected []Rule
	for _, name := range strings.Split(selector, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		rule, ok := r.rules[name]
		if !ok {
			return nil, fmt.Errorf("%w: rule not found: %s", ErrInvalidRuleSet, name)
		}
		seen[name] = struct{}{}
		selected = append(selected, rule)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: selector %q names no rules", ErrInvalidRuleSet, selector)
	}
	return selected, nil
}

// Clone returns a registry holding the same rules. Rules implementing Copier
// are copied; the rest are shared.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for name, rule := range r.rules {
		if cp, ok := rule.(Copier); ok {
			rule = cp.Copy()
		}
		c.rules[name] = rule
	}
	return c
}

var builtin = NewRegistry()

// Register adds a built-in rule. Built-ins register from init(), so a
// duplicate name is a programming error and panics at startup.
func Register(r Rule) {
	if err := builtin.Add(r); err != nil {
		panic(err)
	}
}

// Builtin returns the registry of rules compiled into this binary.
func Builtin() *Registry {
	return builtin
}

func List() []Rule {
	return builtin.List()
}

func Resolve(selector string) ([]Rule, error) {
	return builtin.Resolve(selector)
}
