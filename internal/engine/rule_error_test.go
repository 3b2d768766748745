package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyRuleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{name: "sqlite missing column", err: errors.New("no such column: phone_number"), wantKind: KindSchemaDrift},
		{name: "sqlite missing table", err: errors.New("no such table: customers"), wantKind: KindSchemaDrift},
		{name: "postgres undefined column", err: fmt.Errorf("scan: %w", &pgconn.PgError{Code: "42703", Message: `column "phone_number" does not exist`}), wantKind: KindSchemaDrift},
		{name: "postgres undefined table", err: &pgconn.PgError{Code: "42P01", Message: `relation "customers" does not exist`}, wantKind: KindSchemaDrift},
		{name: "postgres syntax error", err: &pgconn.PgError{Code: "42601", Message: "syntax error at or near \"FROM\""}, wantKind: KindQuery},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), wantKind: KindTimeout},
		{name: "canceled", err: context.Canceled, wantKind: KindCanceled},
		{name: "panic", err: &panicError{value: "boom"}, wantKind: KindPanic},
		{name: "generic", err: errors.New("database is locked"), wantKind: KindQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := classifyRuleError("some_rule", tt.err, false)
			if re.CheckName != "some_rule" {
				t.Fatalf("check name = %q", re.CheckName)
			}
			if re.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", re.Kind, tt.wantKind)
			}
			if re.Message == "" {
				t.Fatalf("expected non-empty message")
			}
		})
	}
}

func TestPresentRuleError_PostgresDropsWrapping(t *testing.T) {
	err := fmt.Errorf("scan: %w", &pgconn.PgError{Code: "42703", Message: `column "x" does not exist`})

	if got, want := presentRuleError(err, false), `column "x" does not exist (SQLSTATE 42703)`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := presentRuleError(err, true); !strings.HasPrefix(got, "scan: ") {
		t.Fatalf("verbose message should keep the full chain, got %q", got)
	}
}

func TestClassifyRuleError_Nil(t *testing.T) {
	re := classifyRuleError("r", nil, false)
	if re.Kind != KindQuery || re.Message == "" {
		t.Fatalf("unexpected %+v", re)
	}
}
