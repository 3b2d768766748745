package sla

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ErrInvalidThresholds marks an unreadable or inconsistent threshold file.
var ErrInvalidThresholds = errors.New("invalid thresholds")

// Kind selects how a threshold is compared. The two kinds are never mixed
// for one rule.
type Kind string

const (
	KindRows     Kind = "rows"
	KindFraction Kind = "fraction"
)

type Threshold struct {
	CheckName         string   `json:"check_name"`
	Kind              Kind     `json:"kind"`
	MaxFailedRows     int64    `json:"max_failed_rows,omitempty"`
	MaxFailedFraction float64  `json:"max_failed_pct,omitempty"`
	Severity          Severity `json:"severity"`
}

// Policy decides the verdict of a rule that has no threshold.
type Policy string

const (
	// PolicyUnknown yields an UNKNOWN verdict.
	PolicyUnknown Policy = "unknown"
	// PolicyZeroTolerance evaluates against max_failed_rows 0 and flags the
	// verdict as defaulted.
	PolicyZeroTolerance Policy = "zero_tolerance"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyUnknown, nil
	case PolicyUnknown, PolicyZeroTolerance:
		return p, nil
	default:
		return "", fmt.Errorf("%w: invalid unconfigured policy %q (must be unknown|zero_tolerance)", ErrInvalidThresholds, s)
	}
}

// Registry maps rule names to thresholds. It is immutable once built.
type Registry struct {
	thresholds      map[string]Threshold
	policy          Policy
	defaultSeverity Severity
}

func NewRegistry(policy Policy, defaultSeverity Severity, thresholds ...Threshold) (*Registry, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = PolicyUnknown
	}
	if defaultSeverity == SeverityUnknown {
		defaultSeverity = SeverityHigh
	}
	r := &Registry{thresholds: make(map[string]Threshold, len(thresholds)), policy: policy, defaultSeverity: defaultSeverity}
	for _, t := range thresholds {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.thresholds[t.CheckName]; dup {
			return nil, fmt.Errorf("%w: duplicate threshold for %s", ErrInvalidThresholds, t.CheckName)
		}
		r.thresholds[t.CheckName] = t
	}
	return r, nil
}

func (t Threshold) validate() error {
	if strings.TrimSpace(t.CheckName) == "" {
		return fmt.Errorf("%w: threshold has no check name", ErrInvalidThresholds)
	}
	if t.Severity == SeverityUnknown {
		return fmt.Errorf("%w: %s: severity is required", ErrInvalidThresholds, t.CheckName)
	}
	switch t.Kind {
	case KindRows:
		if t.MaxFailedRows < 0 {
			return fmt.Errorf("%w: %s: max_failed_rows must be >= 0", ErrInvalidThresholds, t.CheckName)
		}
	case KindFraction:
		if math.IsNaN(t.MaxFailedFraction) || t.MaxFailedFraction < 0 || t.MaxFailedFraction > 1 {
			return fmt.Errorf("%w: %s: max_failed_pct must be within [0, 1]", ErrInvalidThresholds, t.CheckName)
		}
	default:
		return fmt.Errorf("%w: %s: unknown threshold kind %q", ErrInvalidThresholds, t.CheckName, t.Kind)
	}
	return nil
}

// Lookup returns the threshold for name. ok is false for an unconfigured rule;
// the caller applies Policy.
func (r *Registry) Lookup(name string) (Threshold, bool) {
	t, ok := r.thresholds[name]
	return t, ok
}

func (r *Registry) Policy() Policy {
	return r.policy
}

func (r *Registry) DefaultSeverity() Severity {
	return r.defaultSeverity
}

// Names returns the configured rule names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.thresholds))
	for name := range r.thresholds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	return len(r.thresholds)
}

type thresholdFile struct {
	Unconfigured    string                  `yaml:"unconfigured"`
	DefaultSeverity string                  `yaml:"default_severity"`
	Thresholds      map[string]rawThreshold `yaml:"thresholds"`
}

type rawThreshold struct {
	MaxFailedRows any    `yaml:"max_failed_rows"`
	MaxFailedPct  any    `yaml:"max_failed_pct"`
	Severity      string `yaml:"severity"`
}

// ParseThresholds decodes a threshold file:
//
//	unconfigured: unknown        # or zero_tolerance
//	default_severity: high       # severity of zero_tolerance verdicts
//	thresholds:
//	  missing_email:
//	    max_failed_pct: 5%       # or 0.05
//	    severity: medium
//	  duplicate_email:
//	    max_failed_rows: 0
//	    severity: high
func ParseThresholds(data []byte) (*Registry, error) {
	var f thresholdFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: parse thresholds: %v", ErrInvalidThresholds, err)
	}
	if f.Thresholds == nil {
		return nil, fmt.Errorf("%w: no thresholds section", ErrInvalidThresholds)
	}

	policy, err := ParsePolicy(f.Unconfigured)
	if err != nil {
		return nil, err
	}
	defSev := SeverityHigh
	if strings.TrimSpace(f.DefaultSeverity) != "" {
		if defSev, err = ParseSeverity(f.DefaultSeverity); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(f.Thresholds))
	for name := range f.Thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]Threshold, 0, len(names))
	for _, name := range names {
		t, err := f.Thresholds[name].threshold(name)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return NewRegistry(policy, defSev, list...)
}

func (raw rawThreshold) threshold(name string) (Threshold, error) {
	t := Threshold{CheckName: name}
	sev, err := ParseSeverity(raw.Severity)
	if err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	t.Severity = sev

	switch {
	case raw.MaxFailedRows != nil && raw.MaxFailedPct != nil:
		return t, fmt.Errorf("%w: %s: set either max_failed_rows or max_failed_pct, not both", ErrInvalidThresholds, name)
	case raw.MaxFailedRows != nil:
		n, err := coerceRows(raw.MaxFailedRows)
		if err != nil {
			return t, fmt.Errorf("%w: %s: max_failed_rows: %v", ErrInvalidThresholds, name, err)
		}
		t.Kind, t.MaxFailedRows = KindRows, n
	case raw.MaxFailedPct != nil:
		f, err := coerceFraction(raw.MaxFailedPct)
		if err != nil {
			return t, fmt.Errorf("%w: %s: max_failed_pct: %v", ErrInvalidThresholds, name, err)
		}
		t.Kind, t.MaxFailedFraction = KindFraction, f
	default:
		return t, fmt.Errorf("%w: %s: one of max_failed_rows or max_failed_pct is required", ErrInvalidThresholds, name)
	}
	return t, t.validate()
}

func coerceRows(v any) (int64, error) {
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not a whole number", v)
	}
	return cast.ToInt64E(v)
}

// coerceFraction accepts a fraction (0.05) or a percent string ("5%").
func coerceFraction(v any) (float64, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if pct, found := strings.CutSuffix(s, "%"); found {
			f, err := cast.ToFloat64E(strings.TrimSpace(pct))
			if err != nil {
				return 0, err
			}
			return f / 100, nil
		}
		v = s
	}
	return cast.ToFloat64E(v)
}

// LoadThresholds reads a threshold file from disk. A missing file is a
// configuration error, never an empty registry.
func LoadThresholds(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThresholds, err)
	}
	reg, err := ParseThresholds(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}
