package checks

import (
	"context"
	"dqaudit/internal/dataset"
	"dqaudit/internal/rules"
	"fmt"
)

type MissingEmailRule struct{}

func (r *MissingEmailRule) Name() string {
	return "missing_email"
}

func (r *MissingEmailRule) Title() string {
	return "Customer Email Present"
}

func (r *MissingEmailRule) Description() string {
	return "Counts customers whose email is NULL or blank."
}

func (r *MissingEmailRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	return snap.Count(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE email IS NULL OR TRIM(email) = ''", snap.Table()))
}

func init() {
	rules.Register(&MissingEmailRule{})
}
