package output

import (
	"dqaudit/internal/audit"
	"dqaudit/internal/sla"
	"time"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

var checkedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func i64(n int64) *int64 { return &n }
func f64(f float64) *float64 { return &f }

func passVerdict() sla.Verdict {
	return sla.Verdict{
		CheckName:      "missing_email",
		FailedRows:     200,
		TotalRows:      5000,
		MaxFailedRows:  i64(250),
		MaxFailedPct:   f64(0.05),
		Severity:       sla.SeverityMedium,
		Status:         sla.StatusPass,
		CheckTimestamp: checkedAt,
	}
}

func failVerdict() sla.Verdict {
	return sla.Verdict{
		CheckName:      "duplicate_email",
		FailedRows:     12,
		TotalRows:      5000,
		MaxFailedRows:  i64(0),
		Severity:       sla.SeverityHigh,
		Status:         sla.StatusFail,
		CheckTimestamp: checkedAt,
	}
}

func unknownVerdict() sla.Verdict {
	return sla.Verdict{
		CheckName:      "invalid_email_format",
		FailedRows:     3,
		Severity:       sla.SeverityUnknown,
		Status:         sla.StatusUnknown,
		CheckTimestamp: checkedAt,
		Reason:         "no threshold configured",
	}
}

func ruleError() audit.RuleError {
	return audit.RuleError{CheckName: "country_valid", Kind: "schema_drift", Message: "no such column: country_code"}
}
