package checks

import (
	"context"
	"dqaudit/internal/dataset"
	"dqaudit/internal/rules"
	"fmt"
)

type LastActiveBeforeSignupRule struct{}

func (r *LastActiveBeforeSignupRule) Name() string {
	return "last_active_before_signup"
}

func (r *LastActiveBeforeSignupRule) Title() string {
	return "Activity After Signup"
}

func (r *LastActiveBeforeSignupRule) Description() string {
	return "Counts customers whose last_active timestamp precedes their signup_date. Rows missing either value are not counted."
}

func (r *LastActiveBeforeSignupRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	return snap.Count(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE last_active IS NOT NULL AND signup_date IS NOT NULL AND last_active < signup_date",
		snap.Table()))
}

func init() {
	rules.Register(&LastActiveBeforeSignupRule{})
}
