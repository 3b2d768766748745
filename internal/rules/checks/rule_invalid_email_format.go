package checks

import (
	"context"
	"dqaudit/internal/dataset"
	"dqaudit/internal/rules"
	"fmt"
	"strings"
)

const defaultEmailPattern = "%_@_%._%"

// InvalidEmailFormatRule flags emails that do not match a SQL LIKE pattern.
// Missing emails are left to missing_email.
type InvalidEmailFormatRule struct {
	pattern string
}

func (r *InvalidEmailFormatRule) Name() string {
	return "invalid_email_format"
}

func (r *InvalidEmailFormatRule) Title() string {
	return "Customer Email Well-Formed"
}

func (r *InvalidEmailFormatRule) Description() string {
	return "Counts customers whose non-null email does not match the LIKE pattern (default: " + defaultEmailPattern + ")."
}

func (r *InvalidEmailFormatRule) Options() []rules.Option {
	return []rules.Option{{
		Name:        "pattern",
		Description: "SQL LIKE pattern a valid email must match.",
		Default:     defaultEmailPattern,
	}}
}

func (r *InvalidEmailFormatRule) Configure(opts map[string]string) error {
	v, ok := opts["pattern"]
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		r.pattern = ""
		return nil
	}
	if !strings.Contains(v, "@") {
		return fmt.Errorf("invalid value for pattern: %q must contain '@'", v)
	}
	r.pattern = v
	return nil
}

func (r *InvalidEmailFormatRule) Copy() rules.Rule {
	return &InvalidEmailFormatRule{pattern: r.pattern}
}

func (r *InvalidEmailFormatRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	pattern := r.pattern
	if pattern == "" {
		pattern = defaultEmailPattern
	}
	return snap.Count(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE email IS NOT NULL AND TRIM(email) <> '' AND email NOT LIKE ?", snap.Table()),
		pattern)
}

func init() {
	rules.Register(&InvalidEmailFormatRule{})
}
