package rules

import (
	"context"
	"dqaudit/internal/dataset"
)

type Rule interface {
	Name() string
	Title() string
	Description() string

	// Evaluate returns the number of rows in the snapshot that violate the rule.
	// Rules MUST NOT write to the dataset or depend on other rules' results.
	Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error)
}

type Option struct {
	Name        string
	Description string
	Default     string
}

type ConfigurableRule interface {
	Rule
	Options() []Option
	Configure(opts map[string]string) error
}

// Copier is implemented by rules that hold configuration. Registry.Clone
// copies them so configuring a clone leaves the original untouched.
type Copier interface {
	Copy() Rule
}
