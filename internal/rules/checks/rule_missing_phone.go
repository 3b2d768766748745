package checks

import (
	"context"
	"dqaudit/internal/dataset"
	"dqaudit/internal/rules"
	"fmt"
)

type MissingPhoneRule struct{}

func (r *MissingPhoneRule) Name() string {
	return "missing_phone"
}

func (r *MissingPhoneRule) Title() string {
	return "Customer Phone Number Present"
}

func (r *MissingPhoneRule) Description() string {
	return "Counts customers whose phone_number is NULL or blank."
}

func (r *MissingPhoneRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	return snap.Count(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE phone_number IS NULL OR TRIM(phone_number) = ''", snap.Table()))
}

func init() {
	rules.Register(&MissingPhoneRule{})
}
