package checks

import (
	"context"
	"dqaudit/internal/dataset"
	"dqaudit/internal/rules"
	"path/filepath"
	"testing"
	"time"
)

func str(s string) *string { return &s }

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

// fixture has, by construction:
//
//	missing_email              2 (id 4 NULL, id 5 blank)
//	missing_phone              1 (id 2)
//	duplicate_email            3 (ids 1, 2, 6 share dup@example.com)
//	invalid_email_format       1 (id 3)
//	last_active_before_signup  1 (id 6)
func fixture() []dataset.Customer {
	return []dataset.Customer{
		{CustomerID: 1, Name: "a", Email: str("dup@example.com"), PhoneNumber: str("555-0001"), SignupDate: day("2023-01-01"), LastActive: day("2024-01-01")},
		{CustomerID: 2, Name: "b", Email: str("dup@example.com"), PhoneNumber: nil, SignupDate: day("2023-01-01"), LastActive: day("2023-06-01")},
		{CustomerID: 3, Name: "c", Email: str("not-an-email"), PhoneNumber: str("555-0003"), SignupDate: day("2022-01-01"), LastActive: nil},
		{CustomerID: 4, Name: "d", Email: nil, PhoneNumber: str("555-0004"), SignupDate: day("2022-01-01"), LastActive: day("2022-02-01")},
		{CustomerID: 5, Name: "e", Email: str(""), PhoneNumber: str("555-0005"), SignupDate: day("2022-01-01"), LastActive: day("2022-02-01")},
		{CustomerID: 6, Name: "f", Email: str("dup@example.com"), PhoneNumber: str("555-0006"), SignupDate: day("2024-05-01"), LastActive: day("2024-01-01")},
		{CustomerID: 7, Name: "g", Email: str("ok@example.org"), PhoneNumber: str("555-0007"), SignupDate: nil, LastActive: day("2024-01-01")},
	}
}

func newSnapshot(t *testing.T, rows []dataset.Customer) dataset.Snapshot {
	t.Helper()
	db, err := dataset.Open("sqlite://" + filepath.Join(t.TempDir(), "customers.db"))
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := db.ReplaceCustomers(ctx, rows); err != nil {
		t.Fatalf("seed customers: %v", err)
	}
	snap, err := db.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	t.Cleanup(func() { _ = snap.Release() })
	return snap
}

func TestBuiltinRules_Evaluate(t *testing.T) {
	snap := newSnapshot(t, fixture())

	tests := []struct {
		rule rules.Rule
		want int64
	}{
		{rule: &MissingEmailRule{}, want: 2},
		{rule: &MissingPhoneRule{}, want: 1},
		{rule: &DuplicateEmailRule{}, want: 3},
		{rule: &InvalidEmailFormatRule{}, want: 1},
		{rule: &LastActiveBeforeSignupRule{}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.rule.Name(), func(t *testing.T) {
			got, err := tt.rule.Evaluate(context.Background(), snap)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d violating rows, got %d", tt.want, got)
			}
		})
	}
}

func TestBuiltinRules_EmptyDataset(t *testing.T) {
	snap := newSnapshot(t, nil)
	for _, r := range rules.List() {
		t.Run(r.Name(), func(t *testing.T) {
			got, err := r.Evaluate(context.Background(), snap)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if got != 0 {
				t.Fatalf("expected 0 on empty dataset, got %d", got)
			}
		})
	}
}

func TestBuiltinRules_Registered(t *testing.T) {
	want := []string{
		"duplicate_email",
		"invalid_email_format",
		"last_active_before_signup",
		"missing_email",
		"missing_phone",
	}
	got := rules.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d built-in rules, got %d", len(want), len(got))
	}
	for i, r := range got {
		if r.Name() != want[i] {
			t.Fatalf("rule %d: expected %s, got %s", i, want[i], r.Name())
		}
	}
}

func TestInvalidEmailFormatRule_Configure(t *testing.T) {
	snap := newSnapshot(t, fixture())
	rule := &InvalidEmailFormatRule{}

	if err := rule.Configure(map[string]string{"pattern": "%@example.com"}); err != nil {
		t.Fatalf("Configure returned error: %v", err)
	}
	got, err := rule.Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	// not-an-email and ok@example.org
	if got != 2 {
		t.Fatalf("expected 2 with custom pattern, got %d", got)
	}

	if err := rule.Configure(map[string]string{"pattern": "no-at-sign"}); err == nil {
		t.Fatal("expected error for pattern without '@'")
	}

	if err := rule.Configure(map[string]string{"pattern": ""}); err != nil {
		t.Fatalf("Configure(empty) returned error: %v", err)
	}
	got, _ = rule.Evaluate(context.Background(), snap)
	if got != 1 {
		t.Fatalf("expected empty pattern to restore default (1), got %d", got)
	}
}

func TestInvalidEmailFormatRule_ConfiguringCloneKeepsBuiltin(t *testing.T) {
	reg := rules.Builtin().Clone()
	selected, err := reg.Resolve("invalid_email_format")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cr := selected[0].(rules.ConfigurableRule)
	if err := cr.Configure(map[string]string{"pattern": "%@example.com"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	builtin, err := rules.Resolve("invalid_email_format")
	if err != nil {
		t.Fatalf("Resolve builtin: %v", err)
	}
	if p := builtin[0].(*InvalidEmailFormatRule).pattern; p != "" {
		t.Fatalf("built-in rule was configured through a clone: pattern=%q", p)
	}
	if p := cr.(*InvalidEmailFormatRule).pattern; p != "%@example.com" {
		t.Fatalf("clone pattern = %q", p)
	}
}
