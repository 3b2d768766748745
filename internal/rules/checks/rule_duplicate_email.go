package checks

import (
	"context"
	"dqaudit/internal/dataset"
	"dqaudit/internal/rules"
	"fmt"
)

type DuplicateEmailRule struct{}

func (r *DuplicateEmailRule) Name() string {
	return "duplicate_email"
}

func (r *DuplicateEmailRule) Title() string {
	return "Customer Email Unique"
}

func (r *DuplicateEmailRule) Description() string {
	return "Counts customers sharing a non-null email with at least one other customer (every row of a duplicate group counts)."
}

func (r *DuplicateEmailRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	t := snap.Table()
	return snap.Count(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s
WHERE email IS NOT NULL AND email IN (
	SELECT email FROM %s WHERE email IS NOT NULL GROUP BY email HAVING COUNT(*) > 1
)`, t, t))
}

func init() {
	rules.Register(&DuplicateEmailRule{})
}
