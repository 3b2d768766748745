package engine

import (
	"context"
	"dqaudit/internal/audit"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Rule error kinds recorded in dq_execution_errors.
const (
	KindSchemaDrift = "schema_drift"
	KindTimeout     = "timeout"
	KindCanceled    = "canceled"
	KindQuery       = "query"
	KindPanic       = "panic"
)

// Postgres SQLSTATE codes for a relation or column that no longer exists.
const (
	pgUndefinedColumn = "42703"
	pgUndefinedTable  = "42P01"
)

// schemaDriftMarkers are driver messages (SQLite and generic SQL) that mean the
// dataset no longer has the shape a rule expects.
var schemaDriftMarkers = []string{
	"no such column",
	"no such table",
	"does not exist",
	"unknown column",
}

// classifyRuleError maps a rule failure to an audit.RuleError. Rule errors are
// data, not control flow: the batch keeps going.
func classifyRuleError(name string, err error, verbose bool) audit.RuleError {
	if err == nil {
		return audit.RuleError{CheckName: name, Kind: KindQuery, Message: "unknown error"}
	}

	kind := KindQuery
	var pe *panicError
	switch {
	case errors.As(err, &pe):
		kind = KindPanic
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case isSchemaDrift(err):
		kind = KindSchemaDrift
	}

	return audit.RuleError{CheckName: name, Kind: kind, Message: presentRuleError(err, verbose)}
}

func isSchemaDrift(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedColumn || pgErr.Code == pgUndefinedTable
	}
	msg := strings.ToLower(err.Error())
	for _, m := range schemaDriftMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// presentRuleError keeps the stored message short. Postgres errors carry the
// server message only; verbose mode keeps the full chain.
func presentRuleError(err error, verbose bool) string {
	full := strings.TrimSpace(err.Error())
	if verbose {
		return full
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "" {
			return fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
		}
		return pgErr.Message
	}
	if full == "" {
		return "rule evaluation failed"
	}
	return full
}

// panicError carries a recovered panic value out of a rule goroutine.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("rule panicked: %v", p.value)
}
