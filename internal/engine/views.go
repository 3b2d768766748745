package engine

import (
	"context"
	"dqaudit/internal/audit"
	"dqaudit/internal/rules"
	"dqaudit/internal/trend"
	"net/http"
)

// Read-only views over the rule set and the audit log, shared by the CLI
// and the HTTP server.

func (e *Engine) ListRules() []rules.Rule {
	return e.Rules.List()
}

func (e *Engine) History(ctx context.Context, checkName string) ([]audit.Record, error) {
	if checkName == "" {
		return e.Store.HistoryAll(ctx)
	}
	return e.Store.History(ctx, checkName)
}

func (e *Engine) Batches(ctx context.Context, limit int) ([]audit.BatchInfo, error) {
	return e.Store.Batches(ctx, limit)
}

// Trend projects one rule's failure percentage, using the engine's reference
// total for legacy records.
func (e *Engine) Trend(ctx context.Context, checkName string) (trend.Series, error) {
	return trend.ProjectRule(ctx, e.Store, checkName, e.ReferenceTotal)
}

func (e *Engine) Trends(ctx context.Context) ([]trend.Series, error) {
	return trend.ProjectAll(ctx, e.Store, e.ReferenceTotal)
}

func (e *Engine) MetricsHandler() http.Handler {
	return e.Metrics.Handler()
}
